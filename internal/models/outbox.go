// internal/models/outbox.go
package models

import "time"

// OutboxStatus is the lifecycle state of an outbox entry.
type OutboxStatus string

const (
	StatusPending   OutboxStatus = "PENDING"
	StatusSending   OutboxStatus = "SENDING"
	StatusSent      OutboxStatus = "SENT"
	StatusCancelled OutboxStatus = "CANCELLED"
	StatusSkipped   OutboxStatus = "SKIPPED"
)

// Terminal reports whether no further delivery attempt will be made.
func (s OutboxStatus) Terminal() bool {
	return s == StatusSent || s == StatusCancelled || s == StatusSkipped
}

// OutboxEntry is a durable record of one message to be delivered.
// (institute_id, dedup_key) is unique; it is the idempotency boundary for
// enqueue. Entries are created PENDING and mutated only by the delivery
// worker thereafter; they are never deleted.
type OutboxEntry struct {
	ID                string                 `json:"id"`
	InstituteID       string                 `json:"instituteId"`
	EventKey          string                 `json:"eventKey"`
	ToEmail           string                 `json:"toEmail"`
	ToName            string                 `json:"toName,omitempty"`
	TemplateKey       string                 `json:"templateKey"`
	TemplateVersion   int                    `json:"templateVersion"`
	Payload           map[string]interface{} `json:"payload"`
	DedupKey          string                 `json:"dedupKey"`
	Status            OutboxStatus           `json:"status"`
	Attempts          int                    `json:"attempts"`
	LastError         string                 `json:"lastError,omitempty"`
	ScheduledAt       time.Time              `json:"scheduledAt"`
	SentAt            *time.Time             `json:"sentAt,omitempty"`
	ProviderMessageID string                 `json:"providerMessageId,omitempty"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
}

// AuditAction labels one lifecycle transition of an outbox entry.
type AuditAction string

const (
	AuditEnqueued AuditAction = "ENQUEUED"
	AuditSent     AuditAction = "SENT"
	AuditFailed   AuditAction = "FAILED"
	AuditSkipped  AuditAction = "SKIPPED"
)

// AuditRecord is append-only; one record per lifecycle transition.
type AuditRecord struct {
	ID        string                 `json:"id"`
	OutboxID  string                 `json:"outboxId"`
	Action    AuditAction            `json:"action"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// EnqueueStatus is the synchronous outcome of an enqueue call.
type EnqueueStatus string

const (
	EnqueueEnqueued EnqueueStatus = "ENQUEUED"
	EnqueueSkipped  EnqueueStatus = "SKIPPED"
	EnqueueError    EnqueueStatus = "ERROR"
)

// EnqueueResult is returned to enqueue callers. Transport outcomes are never
// part of it; delivery failure is only observable via the admin surface.
type EnqueueResult struct {
	Success  bool          `json:"success"`
	Status   EnqueueStatus `json:"status"`
	OutboxID string        `json:"outboxId,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// QueueStats aggregates outbox counts for monitoring.
type QueueStats struct {
	ByStatus   map[OutboxStatus]int `json:"byStatus"`
	SentLast24 int                  `json:"sentLast24h"`
	ByEventKey map[string]int       `json:"byEventKey"`
}
