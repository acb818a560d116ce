package testhelpers

import (
	"bytes"
	"io"
	"log/slog"
	"sync"

	"github.com/mixaill76/key_rotator/internal/logger"
)

// NewTestLogger returns the service's text logger at debug level writing to
// io.Discard. Debug call sites and secret masking still run under test.
func NewTestLogger() *slog.Logger {
	return logger.NewWithWriter(io.Discard, "debug")
}

// LogBuffer collects log lines written from any goroutine.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewCapturingLogger is NewTestLogger with output kept for assertions.
func NewCapturingLogger() (*slog.Logger, *LogBuffer) {
	buf := &LogBuffer{}
	return logger.NewWithWriter(buf, "debug"), buf
}
