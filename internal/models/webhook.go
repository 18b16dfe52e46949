package models

import "time"

// ProcessedWebhookEvent marks a provider event as durably applied. The unique
// index on event_key is the at-most-once gate: the row is inserted as the
// first statement of the purchase transaction, so a duplicate delivery fails
// the insert and never reaches the balance mutation.
type ProcessedWebhookEvent struct {
	ID        int       `json:"id" db:"id"`
	EventKey  string    `json:"event_key" db:"event_key"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
