package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"famsync/internal/config"
	"famsync/internal/mapping"
	"famsync/internal/models"
	"famsync/internal/routing"
)

// Calendar is the part of the calendar client the engine mutates through.
type Calendar interface {
	CreateEvent(ctx context.Context, calendarID string, draft models.EventDraft) (models.RemoteEvent, error)
	DeleteEvent(ctx context.Context, remoteEventID, calendarID string) error
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Calendar    Calendar
	Store       *mapping.Store
	Ignore      *mapping.IgnoreList
	Classifier  *routing.Classifier
	Eligibility *routing.Eligibility
	Calendars   config.Calendars
	Location    *time.Location
	Now         func() time.Time
	DryRun      bool
}

// Engine ensures every eligible local event has exactly one remote counterpart.
type Engine struct {
	logger      *slog.Logger
	cal         Calendar
	store       *mapping.Store
	ignore      *mapping.IgnoreList
	classifier  *routing.Classifier
	eligibility *routing.Eligibility
	calendars   config.Calendars
	loc         *time.Location
	now         func() time.Time
	dryRun      bool
}

func NewEngine(logger *slog.Logger, d Deps) *Engine {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{
		logger:      logger,
		cal:         d.Calendar,
		store:       d.Store,
		ignore:      d.Ignore,
		classifier:  d.Classifier,
		eligibility: d.Eligibility,
		calendars:   d.Calendars,
		loc:         d.Location,
		now:         d.Now,
		dryRun:      d.DryRun,
	}
}

// Reconcile pushes e unless it is ineligible or already mapped.
//
// The mapping lookup happens strictly before the create call and the mapping
// write strictly after a successful create, so a failed create never leaves
// a mapping behind. The reverse window is not covered: if the create succeeds
// and the mapping write fails (or the process dies in between), the next run
// sees the event as unmapped and pushes it again. That copy has the same
// signature as the first one and is removed by dedup.
func (en *Engine) Reconcile(ctx context.Context, e models.Event) Outcome {
	out := Outcome{UID: e.UID, Summary: e.Summary}

	if reason, skip := en.precheck(e); skip {
		out.Kind = SkippedIneligible
		out.Reason = reason
		return out
	}

	out.Target = en.classifier.Classify(e)
	out.CalendarID = en.calendars.IDFor(out.Target)

	if entry, ok := en.store.Get(e.UID); ok {
		out.Kind = SkippedAlreadyMapped
		out.RemoteID = entry.RemoteEventID
		out.CalendarID = entry.RemoteCalendarID
		if entry.RemoteCalendarID != en.calendars.IDFor(out.Target) {
			out.Reason = fmt.Sprintf("mapped on %s, routing now says %s", entry.RemoteCalendarID, out.Target)
		}
		return out
	}

	if out.CalendarID == "" {
		return out.fail(fmt.Errorf("%w: no calendar id for target %s", models.ErrMissingConfig, out.Target))
	}

	if en.dryRun {
		out.Kind = SkippedDryRun
		out.Reason = "dry run"
		en.logger.Info("[DRY RUN] Would create remote event", "uid", e.UID, "summary", e.Summary, "calendarID", out.CalendarID)
		return out
	}

	remote, err := en.cal.CreateEvent(ctx, out.CalendarID, models.DraftFromEvent(e))
	if err != nil {
		return out.fail(err)
	}
	out.RemoteID = remote.ID

	if err := en.store.Put(e.UID, remote.ID, out.CalendarID); err != nil {
		en.logger.Error("Remote event created but mapping write failed; the next run will push a duplicate",
			"uid", e.UID, "summary", e.Summary, "calendarID", out.CalendarID, "remoteID", remote.ID, "error", err)
		return out.fail(fmt.Errorf("mapping write failed after create: %w", err))
	}

	out.Kind = Pushed
	en.logger.Info("Pushed event", "uid", e.UID, "summary", e.Summary, "calendarID", out.CalendarID, "remoteID", remote.ID)
	return out
}

// precheck applies the ignore list, cancellation, the future-or-today rule
// and eligibility, in that order.
func (en *Engine) precheck(e models.Event) (string, bool) {
	if e.UID == "" {
		return "missing uid", true
	}
	if en.ignore != nil && en.ignore.Contains(e.UID) {
		return "ignored by user", true
	}
	if e.Cancelled {
		return "cancelled", true
	}
	if e.Start.Before(en.today()) {
		return "in the past", true
	}
	if ok, reason := en.eligibility.Check(e); !ok {
		return reason, true
	}
	return "", false
}

// today is local midnight in the configured zone.
func (en *Engine) today() time.Time {
	now := en.now().In(en.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, en.loc)
}

// Remove deletes the remote counterpart of a local uid and prunes its
// mapping. A remote event that is already gone counts as deleted. Unmapped
// uids are a no-op.
func (en *Engine) Remove(ctx context.Context, uid string) (bool, error) {
	entry, ok := en.store.Get(uid)
	if !ok {
		return false, nil
	}
	if en.dryRun {
		en.logger.Info("[DRY RUN] Would delete remote event", "uid", uid, "remoteID", entry.RemoteEventID, "calendarID", entry.RemoteCalendarID)
		return false, nil
	}

	err := en.cal.DeleteEvent(ctx, entry.RemoteEventID, entry.RemoteCalendarID)
	if err != nil && !errors.Is(err, models.ErrRemoteNotFound) {
		return false, err
	}
	if err != nil {
		en.logger.Debug("Remote event already gone", "uid", uid, "remoteID", entry.RemoteEventID)
	}
	if err := en.store.Remove(uid); err != nil {
		return false, fmt.Errorf("remote event deleted but mapping prune failed: %w", err)
	}
	return true, nil
}

// PruneResult counts the outcome of PruneOrphans.
type PruneResult struct {
	Pruned int
	Failed int
	Errors []error
}

// PruneOrphans removes the remote counterpart and mapping of every mapped uid
// that is no longer a live local event. Only mappings whose remote event is
// present in remote are considered, so events outside the listed window are
// never touched.
func (en *Engine) PruneOrphans(ctx context.Context, local []models.Event, remote []models.RemoteEvent) PruneResult {
	var res PruneResult

	live := make(map[string]bool, len(local))
	for _, e := range local {
		if !e.Cancelled {
			live[e.UID] = true
		}
	}
	visible := make(map[string]bool, len(remote))
	for _, r := range remote {
		visible[r.CalendarID+"\x00"+r.ID] = true
	}

	for _, p := range en.store.All() {
		if live[p.LocalUID] || !visible[p.Entry.RemoteCalendarID+"\x00"+p.Entry.RemoteEventID] {
			continue
		}
		removed, err := en.Remove(ctx, p.LocalUID)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("prune %s: %w", p.LocalUID, err))
			en.logger.Error("Failed to prune orphaned mapping", "uid", p.LocalUID, "remoteID", p.Entry.RemoteEventID,
				"calendarID", p.Entry.RemoteCalendarID, "error", err)
			continue
		}
		if removed {
			res.Pruned++
			en.logger.Info("Pruned orphaned mapping", "uid", p.LocalUID, "remoteID", p.Entry.RemoteEventID)
		}
	}
	return res
}
