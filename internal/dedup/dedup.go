package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"famsync/internal/models"
)

// Calendar is the part of the calendar client dedup needs.
type Calendar interface {
	ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]models.RemoteEvent, error)
	DeleteEvent(ctx context.Context, remoteEventID, calendarID string) error
}

// Mapped reports whether a remote event is some local event's counterpart.
type Mapped interface {
	IsMapped(calendarID, remoteEventID string) bool
}

// Group is a set of remote events sharing one signature.
type Group struct {
	Signature string
	Keep      models.RemoteEvent
	Redundant []models.RemoteEvent
}

// Report is the outcome of one Deduplicate call.
type Report struct {
	CalendarID      string
	TotalScanned    int
	DuplicateGroups int
	Deleted         int
	Failed          int
	Errors          []error
	// MappedDeleted holds the remote ids of deleted copies that a mapping
	// still points at. Those mappings are stale after the run.
	MappedDeleted []string
}

// Engine removes logical duplicates from a remote calendar using remote data
// only; the mapping store is consulted just to pick which copy survives.
type Engine struct {
	logger *slog.Logger
	cal    Calendar
	mapped Mapped
	dryRun bool
}

func NewEngine(logger *slog.Logger, cal Calendar, mapped Mapped, dryRun bool) *Engine {
	return &Engine{logger: logger, cal: cal, mapped: mapped, dryRun: dryRun}
}

// Deduplicate lists calendarID within w and deletes every redundant copy.
// Deletions are independent: a failure is counted and the run moves on.
func (en *Engine) Deduplicate(ctx context.Context, calendarID string, w models.Window) (Report, error) {
	report := Report{CalendarID: calendarID}

	events, err := en.cal.ListEvents(ctx, calendarID, w.Start, w.End)
	if err != nil {
		return report, fmt.Errorf("failed to list %s for dedup: %w", calendarID, err)
	}
	report.TotalScanned = len(events)

	groups := en.Scan(calendarID, events)
	report.DuplicateGroups = len(groups)

	for _, g := range groups {
		en.logger.Info("Duplicate group", "calendarID", calendarID, "signature", g.Signature,
			"keep", g.Keep.ID, "redundant", len(g.Redundant))
		for _, dup := range g.Redundant {
			mapped := en.mapped != nil && en.mapped.IsMapped(calendarID, dup.ID)
			if en.dryRun {
				en.logger.Info("[DRY RUN] Would delete duplicate", "calendarID", calendarID, "remoteID", dup.ID,
					"summary", dup.Summary, "mapped", mapped)
				continue
			}
			err := en.cal.DeleteEvent(ctx, dup.ID, calendarID)
			if err != nil && !errors.Is(err, models.ErrRemoteNotFound) {
				report.Failed++
				report.Errors = append(report.Errors, err)
				en.logger.Error("Failed to delete duplicate", "calendarID", calendarID, "remoteID", dup.ID,
					"summary", dup.Summary, "error", err)
				continue
			}
			report.Deleted++
			if mapped {
				report.MappedDeleted = append(report.MappedDeleted, dup.ID)
				en.logger.Warn("Deleted duplicate is still mapped; its mapping is now stale", "calendarID", calendarID,
					"remoteID", dup.ID, "keep", g.Keep.ID, "summary", dup.Summary)
			}
		}
	}
	return report, nil
}

// Scan groups events by signature in listing order and picks a survivor for
// every group larger than one. The survivor is the first copy whose remote id
// is mapped, or the first copy when none is.
func (en *Engine) Scan(calendarID string, events []models.RemoteEvent) []Group {
	bySig := make(map[string][]models.RemoteEvent)
	var order []string
	for _, ev := range events {
		sig := Signature(ev.Summary, ev.Start)
		if _, ok := bySig[sig]; !ok {
			order = append(order, sig)
		}
		bySig[sig] = append(bySig[sig], ev)
	}

	var groups []Group
	for _, sig := range order {
		members := bySig[sig]
		if len(members) < 2 {
			continue
		}
		keep := 0
		if en.mapped != nil {
			for i, m := range members {
				if en.mapped.IsMapped(calendarID, m.ID) {
					keep = i
					break
				}
			}
		}
		g := Group{Signature: sig, Keep: members[keep]}
		for i, m := range members {
			if i != keep {
				g.Redundant = append(g.Redundant, m)
			}
		}
		groups = append(groups, g)
	}
	return groups
}
