package models

// KeyStatus is the ephemeral runtime state of a credential.
type KeyStatus string

const (
	KeyIdle      KeyStatus = "idle"
	KeyPending   KeyStatus = "pending"
	KeyExhausted KeyStatus = "exhausted"
)

// Status hub event names.
const (
	EventKeyUsageStart   = "key_usage_start"
	EventKeyUsageEnd     = "key_usage_end"
	EventStatsUpdate     = "stats_update"
	EventKeyStatusUpdate = "key_status_update"
)

// KeyUsageStartPayload is published before the upstream call is issued.
type KeyUsageStartPayload struct {
	RequestID    string `json:"requestId"`
	CredentialID string `json:"apiKeyId"`
	GroupID      string `json:"keyGroupId"`
	ModelID      string `json:"modelId"`
	Streaming    bool   `json:"streaming"`
}

// KeyStatusPayload is published on every runtime state transition.
type KeyStatusPayload struct {
	CredentialID string    `json:"keyId"`
	Status       KeyStatus `json:"status"`
}
