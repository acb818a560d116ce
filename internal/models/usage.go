package models

import "time"

// UsageStatus is the outcome of a proxied call.
type UsageStatus string

const (
	UsageSuccess UsageStatus = "success"
	UsageFailure UsageStatus = "failure"
)

// TokenUsage holds token counts reported by the upstream.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// UsageRecord is one immutable ledger row. Token and error fields are nil
// when the upstream didn't report them.
type UsageRecord struct {
	RequestID        string      `json:"requestId"`
	CredentialID     string      `json:"apiKeyId"`
	GroupID          string      `json:"keyGroupId"`
	ClientID         string      `json:"clientIdentifier"`
	ModelID          string      `json:"modelId"`
	Status           UsageStatus `json:"status"`
	LatencyMs        int64       `json:"latency"`
	PromptTokens     *int        `json:"promptTokens"`
	CompletionTokens *int        `json:"completionTokens"`
	TotalTokens      *int        `json:"totalTokens"`
	Timestamp        time.Time   `json:"timestamp"`
	ErrorCode        *string     `json:"errorCode"`
	ErrorMessage     *string     `json:"errorMessage"`
}

// SetUsage copies token counts onto the record. A nil usage leaves them unset.
func (r *UsageRecord) SetUsage(u *TokenUsage) {
	if u == nil {
		return
	}
	prompt, completion, total := u.PromptTokens, u.CompletionTokens, u.TotalTokens
	r.PromptTokens = &prompt
	r.CompletionTokens = &completion
	r.TotalTokens = &total
}

// SetError records an error code and message on the record.
func (r *UsageRecord) SetError(code, message string) {
	r.ErrorCode = &code
	r.ErrorMessage = &message
}

// GlobalStats aggregates ledger rows over a trailing window.
type GlobalStats struct {
	WindowHours       int `json:"windowHours"`
	TotalRequests     int `json:"totalRequests"`
	TotalInputTokens  int `json:"totalInputTokens"`
	TotalOutputTokens int `json:"totalOutputTokens"`
	TotalTokens       int `json:"totalTokens"`
}

// QuotaSummary is the daily capacity view of the active pool. Both figures
// cover the enabled credentials of the active group only.
type QuotaSummary struct {
	TotalRpd        int `json:"totalRpd"`
	TotalUsageToday int `json:"totalUsageToday"`
	RemainingQuota  int `json:"remainingQuota"`
}

// DashboardStats combines the quota summary with token stats.
type DashboardStats struct {
	QuotaSummary
	// RequestsToday counts every call today, across all groups and deleted keys.
	RequestsToday int         `json:"requestsToday"`
	Tokens        GlobalStats `json:"tokenStats"`
	ActiveGroup   string      `json:"activeGroupId"`
	NextReset     time.Time   `json:"nextReset"`
}
