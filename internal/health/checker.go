// Package health tracks storage reachability for the health endpoint.
package health

import "sync/atomic"

// StorageChecker holds the cached storage health flag. Reads never do I/O;
// the Monitor goroutine keeps it current.
type StorageChecker struct {
	healthy atomic.Bool
}

// NewStorageChecker creates a checker that starts healthy.
func NewStorageChecker() *StorageChecker {
	hc := &StorageChecker{}
	hc.healthy.Store(true)
	return hc
}

// IsHealthy returns the cached status. A nil checker reports healthy.
func (hc *StorageChecker) IsHealthy() bool {
	if hc == nil {
		return true
	}
	return hc.healthy.Load()
}

// SetHealthy updates the cached status.
func (hc *StorageChecker) SetHealthy(healthy bool) {
	if hc == nil {
		return
	}
	hc.healthy.Store(healthy)
}
