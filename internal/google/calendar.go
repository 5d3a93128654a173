package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"famsync/internal/models"
	"famsync/internal/ratelimit"
	"famsync/internal/retry"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// localUIDProperty is the private extended property carrying the local uid
// of an event we created, for traceability on the provider side.
const localUIDProperty = "famsyncUid"

const dateLayout = "2006-01-02"

// Options are the collaborators shared by every call of a CalendarClient.
type Options struct {
	Limiter  *ratelimit.Limiter
	Retry    retry.Policy
	Location *time.Location // zone for date-only events; UTC if nil
}

// CalendarClient provides list, create and delete on Google calendars.
// Every mutation waits on the limiter; every call is retried on transient errors.
type CalendarClient struct {
	service *calendar.Service
	logger  *slog.Logger
	limiter *ratelimit.Limiter
	retry   retry.Policy
	loc     *time.Location
}

// NewClient creates an authenticated client. credentialsFile may hold a
// service account key or OAuth installed-app credentials; the latter needs
// tokenFile written by the auth command.
func NewClient(ctx context.Context, logger *slog.Logger, credentialsFile, tokenFile string, opts Options) (*CalendarClient, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("credentials file %s not found. Download OAuth or service account credentials from the Google Cloud console", credentialsFile)
		}
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	// Service account first.
	if jwtConfig, jwtErr := google.JWTConfigFromJSON(data, calendar.CalendarScope); jwtErr == nil {
		service, err := calendar.NewService(ctx, option.WithTokenSource(jwtConfig.TokenSource(ctx)))
		if err != nil {
			return nil, fmt.Errorf("failed to create calendar service: %w", err)
		}
		logger.Debug("Using service account credentials.", "email", jwtConfig.Email)
		return newCalendarClient(service, logger, opts), nil
	}

	config, err := google.ConfigFromJSON(data, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials file to config: %w", err)
	}
	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token %s: %w. Please run the 'auth' command first", tokenFile, err)
	}

	service, err := calendar.NewService(ctx, option.WithTokenSource(config.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return newCalendarClient(service, logger, opts), nil
}

// NewClientFromHTTP creates a client over a pre-configured HTTP client.
func NewClientFromHTTP(ctx context.Context, logger *slog.Logger, httpClient *http.Client, opts Options) (*CalendarClient, error) {
	service, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return newCalendarClient(service, logger, opts), nil
}

func newCalendarClient(service *calendar.Service, logger *slog.Logger, opts Options) *CalendarClient {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	policy := opts.Retry
	if policy.Transient == nil {
		policy.Transient = IsTransient
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &CalendarClient{
		service: service,
		logger:  logger,
		limiter: opts.Limiter,
		retry:   policy,
		loc:     loc,
	}
}

// ListEvents returns every event on calendarID overlapping [start, end) in
// the provider's order, following all result pages.
func (c *CalendarClient) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]models.RemoteEvent, error) {
	c.logger.Debug("Listing events", "calendarID", calendarID, "start", start, "end", end)

	var items []*calendar.Event
	pageToken := ""
	for {
		var page *calendar.Events
		err := c.retry.Do(ctx, "list", func() error {
			call := c.service.Events.List(calendarID).
				ShowDeleted(false).
				SingleEvents(true).
				TimeMin(start.Format(time.RFC3339)).
				TimeMax(end.Format(time.RFC3339)).
				OrderBy("startTime").
				MaxResults(2500).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			page, err = call.Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list events on %s: %w", calendarID, classify(err))
		}
		items = append(items, page.Items...)
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	c.logger.Info("Fetched remote events", "count", len(items), "calendarID", calendarID)
	return c.toRemoteEvents(items, calendarID), nil
}

// CreateEvent inserts draft on calendarID and returns the created event.
//
// Inserts are retried on transient errors. If the provider committed an
// insert but the response was lost (a timeout, a dropped connection), the
// retry posts a second copy. Both copies share a signature and the next
// dedup run removes one.
func (c *CalendarClient) CreateEvent(ctx context.Context, calendarID string, draft models.EventDraft) (models.RemoteEvent, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.RemoteEvent{}, err
	}

	event := c.toGoogle(draft)
	var created *calendar.Event
	err := c.retry.Do(ctx, "create", func() error {
		var err error
		created, err = c.service.Events.Insert(calendarID, event).Context(ctx).Do()
		return err
	})
	if err != nil {
		return models.RemoteEvent{}, fmt.Errorf("failed to create event %q on %s: %w", draft.Title, calendarID, classify(err))
	}

	c.logger.Debug("Created remote event", "title", draft.Title, "id", created.Id, "calendarID", calendarID)
	remote, ok := c.toRemoteEvent(created, calendarID)
	if !ok {
		remote = models.RemoteEvent{
			ID: created.Id, CalendarID: calendarID, Summary: draft.Title,
			Start: draft.Start, End: draft.End, AllDay: draft.AllDay, LocalUID: draft.LocalUID,
		}
	}
	return remote, nil
}

// DeleteEvent removes remoteEventID from calendarID. A missing event yields
// an error wrapping models.ErrRemoteNotFound; callers decide whether that is
// success.
func (c *CalendarClient) DeleteEvent(ctx context.Context, remoteEventID, calendarID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	err := c.retry.Do(ctx, "delete", func() error {
		return c.service.Events.Delete(calendarID, remoteEventID).Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("failed to delete event %s on %s: %w", remoteEventID, calendarID, classify(err))
	}
	c.logger.Debug("Deleted remote event", "id", remoteEventID, "calendarID", calendarID)
	return nil
}

func (c *CalendarClient) toGoogle(d models.EventDraft) *calendar.Event {
	ev := &calendar.Event{
		Summary:     d.Title,
		Location:    d.Location,
		Description: d.Description,
	}
	if d.AllDay {
		ev.Start = &calendar.EventDateTime{Date: d.Start.In(c.loc).Format(dateLayout)}
		ev.End = &calendar.EventDateTime{Date: d.End.In(c.loc).Format(dateLayout)}
	} else {
		ev.Start = &calendar.EventDateTime{DateTime: d.Start.Format(time.RFC3339)}
		ev.End = &calendar.EventDateTime{DateTime: d.End.Format(time.RFC3339)}
	}
	if d.LocalUID != "" {
		ev.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{localUIDProperty: d.LocalUID},
		}
	}
	return ev
}

// toRemoteEvents converts Google events, keeping the provider order and
// skipping items without a usable start.
func (c *CalendarClient) toRemoteEvents(items []*calendar.Event, calendarID string) []models.RemoteEvent {
	out := make([]models.RemoteEvent, 0, len(items))
	for _, item := range items {
		ev, ok := c.toRemoteEvent(item, calendarID)
		if !ok {
			c.logger.Warn("Skipping remote event without start time", "id", item.Id, "summary", item.Summary)
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (c *CalendarClient) toRemoteEvent(item *calendar.Event, calendarID string) (models.RemoteEvent, bool) {
	start, allDay, ok := c.parseDateTime(item.Start)
	if !ok {
		return models.RemoteEvent{}, false
	}
	end, _, ok := c.parseDateTime(item.End)
	if !ok {
		end = start
	}
	ev := models.RemoteEvent{
		ID:         item.Id,
		CalendarID: calendarID,
		Summary:    item.Summary,
		Start:      start,
		End:        end,
		AllDay:     allDay,
		Status:     item.Status,
	}
	if item.ExtendedProperties != nil {
		ev.LocalUID = item.ExtendedProperties.Private[localUIDProperty]
	}
	return ev, true
}

func (c *CalendarClient) parseDateTime(dt *calendar.EventDateTime) (time.Time, bool, bool) {
	if dt == nil {
		return time.Time{}, false, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err == nil
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation(dateLayout, dt.Date, c.loc)
		return t, true, err == nil
	}
	return time.Time{}, false, false
}

// classify maps provider status codes onto the model sentinels.
func classify(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	switch {
	case gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone:
		return fmt.Errorf("%w: %v", models.ErrRemoteNotFound, err)
	case gerr.Code == http.StatusForbidden && !isRateLimit(gerr):
		return fmt.Errorf("%w: %v", models.ErrRemoteForbidden, err)
	}
	return err
}

// IsTransient reports whether err is a network failure, rate limit or
// server-side error worth retrying.
func IsTransient(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests, gerr.Code >= 500:
			return true
		case gerr.Code == http.StatusForbidden:
			return isRateLimit(gerr)
		}
		return false
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

func isRateLimit(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(credentialsFile, clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}
	config, err := google.ConfigFromJSON(b, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob"
	return config, nil
}

// TokenFromWeb is called by the auth flow to retrieve a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}
