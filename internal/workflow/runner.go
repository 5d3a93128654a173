package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"famsync/internal/config"
	"famsync/internal/dedup"
	"famsync/internal/mapping"
	"famsync/internal/models"
	"famsync/internal/reconcile"
	"famsync/internal/routing"
)

// Calendar is everything the workflows need from the calendar client.
type Calendar interface {
	ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]models.RemoteEvent, error)
	CreateEvent(ctx context.Context, calendarID string, draft models.EventDraft) (models.RemoteEvent, error)
	DeleteEvent(ctx context.Context, remoteEventID, calendarID string) error
}

// EventLoader supplies the local events overlapping a window.
type EventLoader interface {
	Load(ctx context.Context, w models.Window) ([]models.Event, []error)
}

// Runner composes the engines into the batch workflows. Every workflow
// processes items sequentially; spacing of remote mutations is the calendar
// client's limiter's job.
type Runner struct {
	logger  *slog.Logger
	cfg     *config.Config
	cal     Calendar
	loader  EventLoader
	store   *mapping.Store
	ignore  *mapping.IgnoreList
	engine  *reconcile.Engine
	planner *reconcile.Engine
	dedup   *dedup.Engine
	now     func() time.Time
	dryRun  bool
}

// Options tune a Runner.
type Options struct {
	DryRun bool
	Now    func() time.Time
}

func NewRunner(logger *slog.Logger, cfg *config.Config, cal Calendar, loader EventLoader,
	store *mapping.Store, ignore *mapping.IgnoreList, opts Options) (*Runner, error) {
	eligibility, err := routing.NewEligibility(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to compile eligibility rules: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	deps := reconcile.Deps{
		Calendar:    cal,
		Store:       store,
		Ignore:      ignore,
		Classifier:  routing.NewClassifier(cfg.Household),
		Eligibility: eligibility,
		Calendars:   cfg.Calendar,
		Location:    cfg.Location(),
		Now:         opts.Now,
		DryRun:      opts.DryRun,
	}
	planDeps := deps
	planDeps.DryRun = true

	return &Runner{
		logger:  logger,
		cfg:     cfg,
		cal:     cal,
		loader:  loader,
		store:   store,
		ignore:  ignore,
		engine:  reconcile.NewEngine(logger, deps),
		planner: reconcile.NewEngine(logger, planDeps),
		dedup:   dedup.NewEngine(logger, cal, store, opts.DryRun),
		now:     opts.Now,
		dryRun:  opts.DryRun,
	}, nil
}

// calendarIDs returns the distinct configured calendar ids in target order.
func (r *Runner) calendarIDs(targets []models.Target) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, t := range targets {
		id := r.cfg.Calendar.IDFor(t)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func (r *Runner) load(ctx context.Context, report *Report, w models.Window) ([]models.Event, bool) {
	events, errs := r.loader.Load(ctx, w)
	report.Loaded = len(events)
	for _, err := range errs {
		report.fail("load: %v", err)
	}
	return events, len(errs) == 0
}

func (r *Runner) finish(report *Report) *Report {
	report.Finished = r.now()
	r.logger.Info("Workflow finished", "workflow", report.Workflow, "pushed", report.Pushed,
		"deleted", report.Deleted, "errors", report.Errors, "duration", report.Finished.Sub(report.Started))
	return report
}

// Migrate pushes every eligible, unmapped, future-or-today local event.
func (r *Runner) Migrate(ctx context.Context) *Report {
	report := newReport("migration", r.dryRun, r.now())
	defer r.finish(report)

	events, _ := r.load(ctx, report, r.cfg.Window(r.now()))
	r.logger.Info("Starting migration", "events", len(events))

	for _, e := range events {
		if err := ctx.Err(); err != nil {
			report.fail("interrupted: %v", err)
			break
		}
		out := r.engine.Reconcile(ctx, e)
		if out.Kind == reconcile.Failed {
			r.logger.Error("Failed to reconcile event", "uid", out.UID, "summary", out.Summary,
				"calendarID", out.CalendarID, "error", out.Err)
		}
		report.record(out)
	}
	return report
}

// Cleanup prunes mappings of locally deleted or cancelled events and then
// deduplicates every configured calendar. Pruning is skipped when any source
// failed to load, since its events would otherwise look deleted.
func (r *Runner) Cleanup(ctx context.Context) *Report {
	report := newReport("cleanup", r.dryRun, r.now())
	defer r.finish(report)

	w := r.cfg.Window(r.now())
	events, complete := r.load(ctx, report, w)

	if !complete {
		report.note("orphan pruning skipped: not every source loaded")
		r.logger.Warn("Skipping orphan pruning because a source failed to load")
	} else {
		var remote []models.RemoteEvent
		listed := true
		for _, id := range r.calendarIDs(models.Targets) {
			evs, err := r.cal.ListEvents(ctx, id, w.Start, w.End)
			if err != nil {
				report.fail("list calendar=%s: %v", id, err)
				listed = false
				continue
			}
			remote = append(remote, evs...)
		}
		if !listed {
			report.note("orphan pruning limited to calendars that could be listed")
		}
		report.addPrune(r.engine.PruneOrphans(ctx, events, remote))
	}

	r.dedupCalendars(ctx, report, models.Targets, w)
	return report
}

// Dedup removes duplicates from the calendars bound to targets.
func (r *Runner) Dedup(ctx context.Context, targets []models.Target) *Report {
	report := newReport("dedup", r.dryRun, r.now())
	defer r.finish(report)

	r.dedupCalendars(ctx, report, targets, r.cfg.Window(r.now()))
	return report
}

func (r *Runner) dedupCalendars(ctx context.Context, report *Report, targets []models.Target, w models.Window) {
	for _, id := range r.calendarIDs(targets) {
		d, err := r.dedup.Deduplicate(ctx, id, w)
		if err != nil {
			report.fail("dedup calendar=%s: %v", id, err)
			r.logger.Error("Dedup failed", "calendarID", id, "error", err)
			continue
		}
		r.logger.Info("Dedup finished", "calendarID", id, "scanned", d.TotalScanned,
			"groups", d.DuplicateGroups, "deleted", d.Deleted, "failed", d.Failed)
		report.addDedup(d)
	}
}

// Forget deletes the remote counterpart of one local uid and prunes its mapping.
func (r *Runner) Forget(ctx context.Context, uid string) *Report {
	report := newReport("forget", r.dryRun, r.now())
	defer r.finish(report)

	removed, err := r.engine.Remove(ctx, uid)
	switch {
	case err != nil:
		report.fail("forget uid=%s: %v", uid, err)
	case removed:
		report.Deleted++
		report.Pruned++
	default:
		report.note("uid=%s has no mapping", uid)
	}
	return report
}

// Diagnose inspects local, mapping and remote state without mutating anything.
func (r *Runner) Diagnose(ctx context.Context) *Report {
	report := newReport("diagnostics", true, r.now())
	defer r.finish(report)

	diag := &Diagnostics{
		MappingEntries: r.store.Len(),
		MappingCorrupt: r.store.Corrupt(),
		Duplicates:     make(map[string]int),
	}
	if r.ignore != nil {
		diag.IgnoredEvents = len(r.ignore.All())
	}
	report.Diagnostics = diag
	if diag.MappingCorrupt {
		report.note("mapping store %s was unreadable and is treated as empty", r.store.Path())
	}

	w := r.cfg.Window(r.now())
	events, _ := r.load(ctx, report, w)

	local := make(map[string]models.Event, len(events))
	for _, e := range events {
		local[e.UID] = e
		out := r.planner.Reconcile(ctx, e)
		switch out.Kind {
		case reconcile.SkippedDryRun:
			diag.UnmappedEligible++
		case reconcile.SkippedAlreadyMapped:
			report.AlreadyMapped++
		case reconcile.SkippedIneligible:
			report.Ineligible++
		case reconcile.Failed:
			report.record(out)
		}
	}

	visible := make(map[string]bool)
	listed := make(map[string]bool)
	for _, id := range r.calendarIDs(models.Targets) {
		evs, err := r.cal.ListEvents(ctx, id, w.Start, w.End)
		if err != nil {
			report.fail("list calendar=%s: %v", id, err)
			continue
		}
		listed[id] = true
		report.Scanned += len(evs)
		for _, ev := range evs {
			visible[id+"\x00"+ev.ID] = true
		}
		groups := r.dedup.Scan(id, evs)
		diag.Duplicates[id] = len(groups)
		report.DuplicateGroups += len(groups)
	}

	for _, p := range r.store.All() {
		key := p.Entry.RemoteCalendarID + "\x00" + p.Entry.RemoteEventID
		e, isLocal := local[p.LocalUID]
		switch {
		case isLocal && !e.Cancelled && listed[p.Entry.RemoteCalendarID] && !visible[key] && e.Start.After(w.Start) && e.Start.Before(w.End):
			diag.StaleMappings++
			report.note("stale mapping uid=%s: remote %s missing on %s", p.LocalUID, p.Entry.RemoteEventID, p.Entry.RemoteCalendarID)
		case (!isLocal || e.Cancelled) && visible[key]:
			diag.OrphanedMappings++
		}
	}
	return report
}
