package pushrelay

import (
	"maps"
	"time"
)

// RawMessage is the key/value payload handed over by a push transport.
type RawMessage map[string]string

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope is the validated, typed projection of a RawMessage.
type Envelope struct {
	ID             string            `json:"id,omitempty" yaml:"id,omitempty"`
	Text           string            `json:"text,omitempty" yaml:"text,omitempty"`
	TargetActivity string            `json:"targetActivity,omitempty" yaml:"target_activity,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Version        int               `json:"version,omitempty" yaml:"version,omitempty"`
	ExpiresAt      *time.Time        `json:"expiresAt,omitempty" yaml:"expires_at,omitempty"`
}

// Renderable reports whether the envelope carries content for a notification.
func (e Envelope) Renderable() bool {
	return e.Text != ""
}

// Expired reports whether the envelope's expiry lies before now.
func (e Envelope) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// Clone returns a copy that shares no mutable state with e.
func (e Envelope) Clone() Envelope {
	out := e
	if e.Metadata != nil {
		out.Metadata = maps.Clone(e.Metadata)
	}
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		out.ExpiresAt = &t
	}
	return out
}

// ---------------------------------------------------------------------------
// Notification records
// ---------------------------------------------------------------------------

// State is the lifecycle state of a NotificationRecord.
type State string

const (
	StatePending   State = "Pending"
	StateShown     State = "Shown"
	StateOpened    State = "Opened"
	StateDismissed State = "Dismissed"
)

// NotificationRecord tracks one rendered (or rendering) notification.
type NotificationRecord struct {
	NotificationID int64            `json:"notificationId" yaml:"notification_id"`
	Envelope       Envelope         `json:"envelope" yaml:"envelope"`
	Identity       DeliveryIdentity `json:"identity" yaml:"identity"`
	CreatedAt      time.Time        `json:"createdAt" yaml:"created_at"`
	State          State            `json:"state" yaml:"state"`
}

// OpenedNotification is raised once when a user acts on a shown notification.
type OpenedNotification struct {
	NotificationID int64            `json:"notificationId" yaml:"notification_id"`
	Identity       DeliveryIdentity `json:"identity" yaml:"identity"`
	Envelope       Envelope         `json:"envelope" yaml:"envelope"`
	OpenedAt       time.Time        `json:"openedAt" yaml:"opened_at"`
}

// RenderHandle is whatever the presentation sink wants to hand back after
// rendering. The pipeline only keeps it for logging.
type RenderHandle string

// ---------------------------------------------------------------------------
// Outcomes
// ---------------------------------------------------------------------------

// Outcome is the terminal result of handling one inbound message.
type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeMalformed Outcome = "malformed"
	OutcomeExpired   Outcome = "expired"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSilent    Outcome = "silent"
	OutcomeShown     Outcome = "shown"
	OutcomeFailed    Outcome = "failed"
)
