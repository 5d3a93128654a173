package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"famsync/internal/models"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

const maxOccurrencesPerEvent = 1000

// Feed describes where a batch of events came from and how to tag them.
type Feed struct {
	Name      string
	Assignees []string
	Category  string
}

// fetchICS reads a subscription from an http(s)/webcal URL or a local file.
func fetchICS(ctx context.Context, client *http.Client, location string) ([]byte, error) {
	if strings.HasPrefix(location, "webcal://") {
		location = "https://" + strings.TrimPrefix(location, "webcal://")
	}
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		return os.ReadFile(location)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "famsync/1.0")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// ParseICS decodes an ICS payload and expands it into local events within
// [start, end).
func ParseICS(body []byte, feed Feed, start, end time.Time, loc *time.Location) ([]models.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.NewDecoder(bytes.NewReader(body)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode ICS: %w", err)
	}
	return eventsFromCalendar(cal, feed, start, end, loc)
}

// eventsFromCalendar expands every VEVENT of cal. Recurring events become one
// event per occurrence with uid "<UID>_<unix start>"; RECURRENCE-ID
// overrides replace the matching occurrence.
func eventsFromCalendar(cal *ical.Calendar, feed Feed, start, end time.Time, loc *time.Location) ([]models.Event, error) {
	var out []models.Event
	var errs []error

	overrides := make(map[string]map[int64]bool)
	for _, ev := range cal.Events() {
		rid := ev.Props.Get(ical.PropRecurrenceID)
		if rid == nil {
			continue
		}
		uid, _ := ev.Props.Text(ical.PropUID)
		t, err := rid.DateTime(loc)
		if err != nil {
			continue
		}
		if overrides[uid] == nil {
			overrides[uid] = make(map[int64]bool)
		}
		overrides[uid][t.Unix()] = true
	}

	for _, ev := range cal.Events() {
		expanded, err := expandEvent(ev, feed, start, end, loc, overrides)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, expanded...)
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func expandEvent(ev ical.Event, feed Feed, start, end time.Time, loc *time.Location, overrides map[string]map[int64]bool) ([]models.Event, error) {
	uid, err := ev.Props.Text(ical.PropUID)
	if err != nil || uid == "" {
		return nil, errors.New("vevent without UID")
	}
	dtStart, err := ev.DateTimeStart(loc)
	if err != nil {
		return nil, fmt.Errorf("vevent %s: invalid DTSTART: %w", uid, err)
	}
	dtEnd, err := ev.DateTimeEnd(loc)
	if err != nil || dtEnd.IsZero() {
		dtEnd = dtStart
	}
	duration := dtEnd.Sub(dtStart)

	base := models.Event{
		UID:       uid,
		Start:     dtStart,
		End:       dtEnd,
		AllDay:    isDate(ev.Props.Get(ical.PropDateTimeStart)),
		Source:    feed.Name,
		Category:  feed.Category,
		Assignees: append([]string(nil), feed.Assignees...),
	}
	base.Summary, _ = ev.Props.Text(ical.PropSummary)
	base.Location, _ = ev.Props.Text(ical.PropLocation)
	base.Description, _ = ev.Props.Text(ical.PropDescription)
	if status, _ := ev.Props.Text(ical.PropStatus); strings.EqualFold(status, "CANCELLED") {
		base.Cancelled = true
	}
	if cat, _ := ev.Props.Text(ical.PropCategories); cat != "" && base.Category == "" {
		base.Category = cat
	}

	if rid := ev.Props.Get(ical.PropRecurrenceID); rid != nil {
		t, err := rid.DateTime(loc)
		if err != nil {
			return nil, fmt.Errorf("vevent %s: invalid RECURRENCE-ID: %w", uid, err)
		}
		base.UID = occurrenceUID(uid, t)
		if !overlaps(base.Start, base.End, start, end) {
			return nil, nil
		}
		return []models.Event{base}, nil
	}

	var set *rrule.Set
	set, err = ev.RecurrenceSet(loc)
	if err != nil {
		return nil, fmt.Errorf("vevent %s: invalid recurrence: %w", uid, err)
	}
	if set == nil {
		if !overlaps(base.Start, base.End, start, end) {
			return nil, nil
		}
		return []models.Event{base}, nil
	}

	var out []models.Event
	for _, occ := range set.Between(start.Add(-duration), end, true) {
		if overrides[uid][occ.Unix()] {
			continue
		}
		if len(out) >= maxOccurrencesPerEvent {
			break
		}
		inst := base
		inst.UID = occurrenceUID(uid, occ)
		inst.Start = occ
		inst.End = occ.Add(duration)
		inst.Assignees = append([]string(nil), base.Assignees...)
		out = append(out, inst)
	}
	return out, nil
}

func occurrenceUID(uid string, t time.Time) string {
	return fmt.Sprintf("%s_%d", uid, t.Unix())
}

func isDate(p *ical.Prop) bool {
	return p != nil && p.ValueType() == ical.ValueDate
}

func overlaps(evStart, evEnd, start, end time.Time) bool {
	if !evEnd.After(evStart) {
		evEnd = evStart.Add(time.Nanosecond)
	}
	return evStart.Before(end) && evEnd.After(start)
}
