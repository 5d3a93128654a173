package models

import (
	"errors"
	"time"
)

// SourceLocal is the provenance tag of events created directly in the household system.
const SourceLocal = "locally created"

var (
	// ErrRemoteNotFound is returned by a calendar client when the remote event does not exist.
	ErrRemoteNotFound = errors.New("remote event not found")
	// ErrRemoteForbidden is returned when the provider refuses access to the event or calendar.
	ErrRemoteForbidden = errors.New("remote access forbidden")
	// ErrMissingConfig is returned when required configuration is absent.
	ErrMissingConfig = errors.New("missing configuration")
)

// Event represents a locally known calendar event.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	UID         string    `json:"uid"`                 // Stable identifier, never reused
	Summary     string    `json:"summary"`             // Title of the event
	Start       time.Time `json:"start"`               // Start time of the event
	End         time.Time `json:"end"`                 // End time of the event
	AllDay      bool      `json:"allDay,omitempty"`    // Date-only event
	Location    string    `json:"location,omitempty"`  // Location of the event
	Description string    `json:"description,omitempty"`
	Assignees   []string  `json:"assignees,omitempty"` // Empty means the whole family
	Source      string    `json:"source"`              // Provenance, e.g. a subscription name
	Category    string    `json:"category,omitempty"`
	Cancelled   bool      `json:"cancelled,omitempty"`
}

// RemoteEvent is an event as it exists on the external calendar provider.
type RemoteEvent struct {
	ID         string // Provider-assigned, scoped to CalendarID
	CalendarID string
	Summary    string
	Start      time.Time
	End        time.Time
	AllDay     bool
	LocalUID   string // Traceability metadata written at creation, may be empty
	Status     string
}

// EventDraft is the payload sent to the provider when creating an event.
type EventDraft struct {
	Title       string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Location    string
	Description string
	LocalUID    string
}

// DraftFromEvent builds the create payload for a local event.
func DraftFromEvent(e Event) EventDraft {
	end := e.End
	if end.IsZero() || end.Before(e.Start) {
		if e.AllDay {
			end = e.Start.AddDate(0, 0, 1)
		} else {
			end = e.Start.Add(time.Hour)
		}
	}
	return EventDraft{
		Title:       e.Summary,
		Start:       e.Start,
		End:         end,
		AllDay:      e.AllDay,
		Location:    e.Location,
		Description: e.Description,
		LocalUID:    e.UID,
	}
}

// Window is a half-open time range [Start, End) bounding remote listings.
type Window struct {
	Start time.Time
	End   time.Time
}
