package google

import (
	"context"
	"fmt"
	"sync"
	"time"

	"famsync/internal/models"

	"github.com/google/uuid"
)

// StubCalendar is an in-memory calendar provider. Events are listed in
// insertion order, which stands in for the provider's natural order.
type StubCalendar struct {
	mu        sync.Mutex
	calendars map[string][]models.RemoteEvent

	Creates int
	Deletes int
	// CreateErr and DeleteErr, when set, are consulted before every call;
	// a non-nil result fails the call without touching state.
	CreateErr func(calendarID string, draft models.EventDraft) error
	DeleteErr func(remoteEventID, calendarID string) error
}

func NewStubCalendar() *StubCalendar {
	return &StubCalendar{calendars: make(map[string][]models.RemoteEvent)}
}

// Seed appends an existing remote event and returns it with an id assigned if empty.
func (c *StubCalendar) Seed(calendarID string, ev models.RemoteEvent) models.RemoteEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CalendarID = calendarID
	c.calendars[calendarID] = append(c.calendars[calendarID], ev)
	return ev
}

// Events returns every event on a calendar regardless of window.
func (c *StubCalendar) Events(calendarID string) []models.RemoteEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.RemoteEvent(nil), c.calendars[calendarID]...)
}

func (c *StubCalendar) ListEvents(_ context.Context, calendarID string, start, end time.Time) ([]models.RemoteEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.RemoteEvent
	for _, ev := range c.calendars[calendarID] {
		evEnd := ev.End
		if evEnd.IsZero() || !evEnd.After(ev.Start) {
			evEnd = ev.Start.Add(time.Nanosecond)
		}
		if ev.Start.Before(end) && evEnd.After(start) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *StubCalendar) CreateEvent(_ context.Context, calendarID string, draft models.EventDraft) (models.RemoteEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CreateErr != nil {
		if err := c.CreateErr(calendarID, draft); err != nil {
			return models.RemoteEvent{}, err
		}
	}
	ev := models.RemoteEvent{
		ID:         uuid.NewString(),
		CalendarID: calendarID,
		Summary:    draft.Title,
		Start:      draft.Start,
		End:        draft.End,
		AllDay:     draft.AllDay,
		LocalUID:   draft.LocalUID,
		Status:     "confirmed",
	}
	c.calendars[calendarID] = append(c.calendars[calendarID], ev)
	c.Creates++
	return ev, nil
}

func (c *StubCalendar) DeleteEvent(_ context.Context, remoteEventID, calendarID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DeleteErr != nil {
		if err := c.DeleteErr(remoteEventID, calendarID); err != nil {
			return err
		}
	}
	events := c.calendars[calendarID]
	for i, ev := range events {
		if ev.ID == remoteEventID {
			c.calendars[calendarID] = append(events[:i:i], events[i+1:]...)
			c.Deletes++
			return nil
		}
	}
	return fmt.Errorf("delete %s on %s: %w", remoteEventID, calendarID, models.ErrRemoteNotFound)
}
