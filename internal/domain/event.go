package domain

import (
	"fmt"
	"strings"
	"time"
)

// EventKind is a provider-reported lifecycle occurrence.
type EventKind string

const (
	EventAccepted     EventKind = "accepted"
	EventDelivered    EventKind = "delivered"
	EventOpened       EventKind = "opened"
	EventClicked      EventKind = "clicked"
	EventUnsubscribed EventKind = "unsubscribed"
	EventComplained   EventKind = "complained"
	EventFailed       EventKind = "failed"
	EventRejected     EventKind = "rejected"
)

// EventKinds lists every kind the provider may report. The stored flag on a
// DeliveryRecord is not among them: only attaching content raises it.
var EventKinds = []EventKind{
	EventAccepted, EventDelivered, EventOpened, EventClicked,
	EventUnsubscribed, EventComplained, EventFailed, EventRejected,
}

// ParseEventKind maps a provider event name onto the enumeration.
func ParseEventKind(name string) (EventKind, error) {
	k := EventKind(strings.ToLower(strings.TrimSpace(name)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown event kind %q", name)
	}
	return k, nil
}

// Valid reports whether k is one of EventKinds.
func (k EventKind) Valid() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// FlagColumn is the delivery record column raised by this event.
func (k EventKind) FlagColumn() string {
	return "has_" + string(k)
}

// Event is one append-only history entry for a DeliveryRecord.
type Event struct {
	ID        int64          `json:"id" db:"id"`
	MailID    string         `json:"mail_id" db:"mail_id"`
	Kind      EventKind      `json:"name" db:"name"`
	ExtraData map[string]any `json:"extra_data,omitempty" db:"extra_data"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}
