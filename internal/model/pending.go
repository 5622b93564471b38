package model

import (
	"time"
)

// ForwardRequest is what gets delivered to the downstream system, both on
// intake and from the retry path.
type ForwardRequest struct {
	QuoteID   string    `json:"quoteId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	QuoteSubmission
}

// PendingQuote is a forward request that has not been confirmed delivered.
type PendingQuote struct {
	ForwardRequest
	CorrelationID string     `json:"correlationId"`
	RetryCount    int        `json:"retryCount"`
	LastRetryAt   *time.Time `json:"lastRetryTimestamp"`
	EnqueuedAt    time.Time  `json:"timestamp"`
	LastError     string     `json:"lastError,omitempty"`
}

// DeadLettered reports whether the entry has used its whole retry budget.
func (p *PendingQuote) DeadLettered(maxRetries int) bool {
	return p.RetryCount >= maxRetries
}
