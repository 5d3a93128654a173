package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"famsync/internal/config"
	"famsync/internal/models"
)

// Loader gathers local events from every configured source.
type Loader struct {
	logger     *slog.Logger
	cfg        *config.Config
	httpClient *http.Client
	transport  http.RoundTripper
}

func NewLoader(logger *slog.Logger, cfg *config.Config) *Loader {
	return &Loader{
		logger:     logger,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient replaces the client used for ICS subscriptions and the
// transport used for CalDAV.
func (l *Loader) WithHTTPClient(c *http.Client) *Loader {
	l.httpClient = c
	l.transport = c.Transport
	return l
}

// Load returns the events of all sources overlapping the window, keyed by
// uid with the first occurrence winning. A failing source is logged, reported
// in the returned error slice and skipped.
func (l *Loader) Load(ctx context.Context, w models.Window) ([]models.Event, []error) {
	loc := l.cfg.Location()
	start, end := w.Start, w.End
	var all []models.Event
	var errs []error

	for _, src := range l.cfg.Sources.ICS {
		body, err := fetchICS(ctx, l.httpClient, src.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.Name, err))
			l.logger.Error("Could not fetch subscription", "source", src.Name, "error", err)
			continue
		}
		events, err := ParseICS(body, Feed{Name: src.Name, Assignees: src.Assignees, Category: src.Category}, start, end, loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.Name, err))
			l.logger.Error("Could not parse subscription", "source", src.Name, "error", err)
			continue
		}
		l.logger.Info("Loaded subscription", "source", src.Name, "count", len(events))
		all = append(all, events...)
	}

	for _, src := range l.cfg.Sources.CalDAV {
		cal, err := NewCalDAVCalendar(l.logger, src, l.transport)
		if err == nil {
			var events []models.Event
			events, err = cal.Events(ctx, start, end, loc)
			all = append(all, events...)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.Name, err))
			l.logger.Error("Could not read CalDAV calendar", "source", src.Name, "error", err)
		}
	}

	local, err := LoadLocalEvents(l.cfg.LocalEventsPath())
	if err != nil {
		errs = append(errs, err)
		l.logger.Error("Could not read local events", "file", l.cfg.LocalEventsPath(), "error", err)
	}
	for _, e := range local {
		if overlaps(e.Start, e.End, start, end) {
			all = append(all, e)
		}
	}

	return dedupeByUID(l.logger, all), errs
}

func dedupeByUID(logger *slog.Logger, events []models.Event) []models.Event {
	seen := make(map[string]bool, len(events))
	out := make([]models.Event, 0, len(events))
	for _, e := range events {
		if e.UID == "" {
			logger.Warn("Dropping local event without uid", "summary", e.Summary, "source", e.Source)
			continue
		}
		if seen[e.UID] {
			logger.Debug("Dropping repeated local uid", "uid", e.UID, "source", e.Source)
			continue
		}
		seen[e.UID] = true
		out = append(out, e)
	}
	return out
}
