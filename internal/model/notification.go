package model

import "time"

// Notification is the audit record of a message handed to the notifier.
type Notification struct {
	ID string `json:"id" db:"id"`

	// EntityID links the notification to the entity that produced it.
	// Empty for operator alerts.
	EntityID string `json:"entity_id" db:"entity_id"`

	// Kind is the event kind, or "alert" for operator alerts.
	Kind string `json:"kind" db:"kind"`

	Message string `json:"message" db:"message"`

	// Delivered is false when every notification channel failed.
	Delivered bool `json:"delivered" db:"delivered"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// KindAlert marks a Notification raised for the operator rather than for
// a detected change.
const KindAlert = "alert"
