package models

import "time"

// ProcessedWebhookEvent is the idempotency ledger. The primary key insert is
// the single gate for "has this event been applied": two concurrent
// deliveries race on the insert, not on a read-then-write check. Rows are
// append-only.
type ProcessedWebhookEvent struct {
	EventID     string    `gorm:"primarykey;size:255" json:"event_id"`
	ProcessedAt time.Time `json:"processed_at"`
	Outcome     string    `json:"outcome,omitempty"`
}
