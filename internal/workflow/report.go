package workflow

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"famsync/internal/dedup"
	"famsync/internal/reconcile"
)

// Report is the operator-facing summary of one workflow run. It is printed
// even when the run failed part way.
type Report struct {
	Workflow string
	DryRun   bool
	Started  time.Time
	Finished time.Time

	Loaded          int
	Pushed          int
	AlreadyMapped   int
	Ineligible      int
	DryRunSkipped   int
	Scanned         int
	DuplicateGroups int
	Deleted         int
	Pruned          int
	Errors          int

	Failures    []string
	Notes       []string
	Diagnostics *Diagnostics
}

// Diagnostics are the read-only findings of the diagnose workflow.
type Diagnostics struct {
	MappingEntries   int
	MappingCorrupt   bool
	IgnoredEvents    int
	UnmappedEligible int
	StaleMappings    int
	OrphanedMappings int
	Duplicates       map[string]int // calendar id to duplicate group count
}

func newReport(workflow string, dryRun bool, now time.Time) *Report {
	return &Report{Workflow: workflow, DryRun: dryRun, Started: now}
}

// Failed reports whether any item failed.
func (r *Report) Failed() bool {
	return r.Errors > 0
}

func (r *Report) fail(format string, args ...any) {
	r.Errors++
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

func (r *Report) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

func (r *Report) record(o reconcile.Outcome) {
	switch o.Kind {
	case reconcile.Pushed:
		r.Pushed++
	case reconcile.SkippedAlreadyMapped:
		r.AlreadyMapped++
		if o.Reason != "" {
			r.note("uid=%s %s", o.UID, o.Reason)
		}
	case reconcile.SkippedIneligible:
		r.Ineligible++
	case reconcile.SkippedDryRun:
		r.DryRunSkipped++
	case reconcile.Failed:
		msg := fmt.Sprintf("push uid=%s summary=%q calendar=%s: %s", o.UID, o.Summary, o.CalendarID, o.Reason)
		if o.RemoteID != "" {
			msg += fmt.Sprintf(" (remote event %s exists without mapping)", o.RemoteID)
		}
		r.Errors++
		r.Failures = append(r.Failures, msg)
	}
}

func (r *Report) addDedup(d dedup.Report) {
	r.Scanned += d.TotalScanned
	r.DuplicateGroups += d.DuplicateGroups
	r.Deleted += d.Deleted
	for _, err := range d.Errors {
		r.fail("dedup calendar=%s: %v", d.CalendarID, err)
	}
	for _, id := range d.MappedDeleted {
		r.note("dedup deleted mapped remote event %s on %s; its mapping is stale", id, d.CalendarID)
	}
}

func (r *Report) addPrune(p reconcile.PruneResult) {
	r.Pruned += p.Pruned
	r.Deleted += p.Pruned
	for _, err := range p.Errors {
		r.fail("%v", err)
	}
}

// Print writes the summary to w.
func (r *Report) Print(w io.Writer) {
	finished := r.Finished
	if finished.IsZero() {
		finished = time.Now()
	}
	title := r.Workflow
	if r.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintf(w, "\n=== famsync %s summary ===\n", title)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "started\t%s\n", r.Started.Format(time.RFC3339))
	fmt.Fprintf(tw, "duration\t%s\n", finished.Sub(r.Started).Round(time.Millisecond))
	fmt.Fprintf(tw, "local events\t%d\n", r.Loaded)
	fmt.Fprintf(tw, "pushed\t%d\n", r.Pushed)
	fmt.Fprintf(tw, "skipped\t%d\t(already mapped %d, ineligible %d, dry run %d)\n",
		r.AlreadyMapped+r.Ineligible+r.DryRunSkipped, r.AlreadyMapped, r.Ineligible, r.DryRunSkipped)
	fmt.Fprintf(tw, "remote scanned\t%d\n", r.Scanned)
	fmt.Fprintf(tw, "duplicate groups\t%d\n", r.DuplicateGroups)
	fmt.Fprintf(tw, "deleted\t%d\n", r.Deleted)
	fmt.Fprintf(tw, "pruned mappings\t%d\n", r.Pruned)
	fmt.Fprintf(tw, "errors\t%d\n", r.Errors)
	if d := r.Diagnostics; d != nil {
		fmt.Fprintf(tw, "mapping entries\t%d\n", d.MappingEntries)
		fmt.Fprintf(tw, "mapping corrupt\t%t\n", d.MappingCorrupt)
		fmt.Fprintf(tw, "ignored events\t%d\n", d.IgnoredEvents)
		fmt.Fprintf(tw, "unmapped eligible\t%d\n", d.UnmappedEligible)
		fmt.Fprintf(tw, "stale mappings\t%d\n", d.StaleMappings)
		fmt.Fprintf(tw, "orphaned mappings\t%d\n", d.OrphanedMappings)
		cals := make([]string, 0, len(d.Duplicates))
		for cal := range d.Duplicates {
			cals = append(cals, cal)
		}
		sort.Strings(cals)
		for _, cal := range cals {
			fmt.Fprintf(tw, "duplicates on %s\t%d\n", cal, d.Duplicates[cal])
		}
	}
	tw.Flush()

	if len(r.Failures) > 0 {
		fmt.Fprintln(w, "failures:")
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  - %s\n", f)
		}
	}
	if len(r.Notes) > 0 {
		fmt.Fprintln(w, "notes:")
		for _, n := range r.Notes {
			fmt.Fprintf(w, "  - %s\n", n)
		}
	}
}
