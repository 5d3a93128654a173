package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"famsync/internal/config"
	"famsync/internal/models"

	"github.com/emersion/go-webdav/caldav"
)

const iCloudCalDAVEndpoint = "https://caldav.icloud.com/"

// basicAuthTransport handles adding Basic Auth and custom headers to requests.
type basicAuthTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "famsync/1.0")
	return t.Transport.RoundTrip(req)
}

// CalDAVCalendar reads events from one personal calendar over CalDAV.
type CalDAVCalendar struct {
	client   *caldav.Client
	logger   *slog.Logger
	endpoint string
	name     string
	feed     Feed
}

// NewCalDAVCalendar creates a reader for src. The endpoint defaults to iCloud.
func NewCalDAVCalendar(logger *slog.Logger, src config.CalDAVSource, base http.RoundTripper) (*CalDAVCalendar, error) {
	endpoint := src.Endpoint
	if endpoint == "" {
		endpoint = iCloudCalDAVEndpoint
	}
	if base == nil {
		base = http.DefaultTransport
	}
	httpClient := &http.Client{
		Transport: &basicAuthTransport{Username: src.Username, Password: src.Password, Transport: base},
		Timeout:   30 * time.Second,
	}

	client, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	return &CalDAVCalendar{
		client:   client,
		logger:   logger,
		endpoint: endpoint,
		name:     src.Calendar,
		feed:     Feed{Name: src.Name, Assignees: src.Assignees},
	}, nil
}

// Events returns the calendar's events overlapping [start, end).
func (c *CalDAVCalendar) Events(ctx context.Context, start, end time.Time, loc *time.Location) ([]models.Event, error) {
	calendarPath, err := c.findCalendar(ctx, c.name)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s' at %s: %w", c.name, c.endpoint, err)
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{{Name: "VEVENT", AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name:  "VCALENDAR",
			Comps: []caldav.CompFilter{{Name: "VEVENT", Start: start, End: end}},
		},
	}
	objects, err := c.client.QueryCalendar(ctx, calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar '%s': %w", c.name, err)
	}

	var events []models.Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		evs, err := eventsFromCalendar(obj.Data, c.feed, start, end, loc)
		if err != nil {
			c.logger.Warn("Skipping unreadable CalDAV object", "path", obj.Path, "error", err)
			continue
		}
		events = append(events, evs...)
	}
	c.logger.Info("Fetched CalDAV events", "source", c.feed.Name, "count", len(events))
	return events, nil
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *CalDAVCalendar) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.client.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.client.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name || strings.TrimSuffix(cal.Path, "/") == strings.TrimSuffix(name, "/") {
			return cal.Path, nil
		}
	}
	return "", fmt.Errorf("no calendar found with name '%s'", name)
}
