package events

import (
	"context"
	"encoding/json"
	"time"

	"applyportal/internal/util"
)

// Event types published by the portal.
const (
	TypeApplicantRegistered = "applicant.registered"
	TypeApplicantVerified   = "applicant.verified"
	TypeReviewStateChanged  = "applicant.state_changed"
	TypeUserDeleted         = "user.deleted"
)

// Event is a domain notification for downstream consumers.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurredAt"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// New stamps an event with an id and time.
func New(eventType string, attrs map[string]string) Event {
	return Event{
		ID:         util.NewID(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Attributes: attrs,
	}
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Publishing is best-effort; callers log failures.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop drops events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
