package workflow

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"famsync/internal/config"
	"famsync/internal/google"
	"famsync/internal/mapping"
	"famsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeLoader struct {
	events []models.Event
	errs   []error
}

func (l *fakeLoader) Load(_ context.Context, _ models.Window) ([]models.Event, []error) {
	return l.events, l.errs
}

type fixture struct {
	runner *Runner
	stub   *google.StubCalendar
	store  *mapping.Store
	loader *fakeLoader
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T, dryRun bool) fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Sync.Timezone = "UTC"
	cfg.Storage.Dir = dir
	cfg.Calendar = config.Calendars{Family: "family", PersonA: "svante", PersonB: "sarah"}

	f := fixture{
		stub:   google.NewStubCalendar(),
		store:  mapping.Open(discardLogger(), cfg.MappingPath()),
		loader: &fakeLoader{},
	}
	ignore := mapping.OpenIgnoreList(discardLogger(), filepath.Join(dir, "ignored-events.json"))
	r, err := NewRunner(discardLogger(), &cfg, f.stub, f.loader, f.store, ignore, Options{
		DryRun: dryRun,
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)
	f.runner = r
	return f
}

func event(uid, summary string, assignees ...string) models.Event {
	start := time.Date(2025, 3, 4, 18, 0, 0, 0, time.UTC)
	return models.Event{
		UID:       uid,
		Summary:   summary,
		Start:     start,
		End:       start.Add(time.Hour),
		Assignees: assignees,
		Source:    "Klubben",
	}
}

func TestNewRunner_InvalidRule(t *testing.T) {
	cfg := config.Default()
	cfg.Rules.Allow = []string{"("}
	_, err := NewRunner(discardLogger(), &cfg, google.NewStubCalendar(), &fakeLoader{}, nil, nil, Options{})
	require.Error(t, err)
}

func TestMigrate_IsIdempotent(t *testing.T) {
	f := setup(t, false)
	f.loader.events = []models.Event{
		event("u1", "Handbollsträning", "Algot"),
		event("u2", "Svante: Fotbollsmatch", "Svante"),
		event("u3", "Privat middag", "Sarah"),
	}

	first := f.runner.Migrate(context.Background())
	assert.Equal(t, 2, first.Pushed)
	assert.Equal(t, 1, first.Ineligible)
	assert.False(t, first.Failed())
	assert.Len(t, f.stub.Events("family"), 1)
	assert.Len(t, f.stub.Events("svante"), 1)
	assert.False(t, first.Finished.IsZero())

	second := f.runner.Migrate(context.Background())
	assert.Equal(t, 0, second.Pushed)
	assert.Equal(t, 2, second.AlreadyMapped)
	assert.Equal(t, 2, f.stub.Creates)
}

func TestMigrate_FailureIsReportedAndOthersContinue(t *testing.T) {
	f := setup(t, false)
	f.loader.events = []models.Event{
		event("u1", "Handbollsträning", "Algot"),
		event("u2", "Fotbollsmatch", "Tuva"),
	}
	f.stub.CreateErr = func(_ string, draft models.EventDraft) error {
		if draft.LocalUID == "u1" {
			return errors.New("backend error")
		}
		return nil
	}

	report := f.runner.Migrate(context.Background())
	assert.Equal(t, 1, report.Pushed)
	assert.Equal(t, 1, report.Errors)
	assert.True(t, report.Failed())
	_, ok := f.store.Get("u1")
	assert.False(t, ok)
	_, ok = f.store.Get("u2")
	assert.True(t, ok)
}

func TestMigrate_DryRunMutatesNothing(t *testing.T) {
	f := setup(t, true)
	f.loader.events = []models.Event{event("u1", "Handbollsträning", "Algot")}

	report := f.runner.Migrate(context.Background())
	assert.Equal(t, 1, report.DryRunSkipped)
	assert.Equal(t, 0, f.stub.Creates)
	assert.Equal(t, 0, f.store.Len())
}

func TestCleanup_PrunesOrphansAndDuplicates(t *testing.T) {
	f := setup(t, false)
	f.loader.events = []models.Event{
		event("keep", "Handbollsträning", "Algot"),
		event("gone", "Fotbollsmatch", "Tuva"),
	}
	f.runner.Migrate(context.Background())
	require.Equal(t, 2, f.store.Len())

	kept, _ := f.store.Get("keep")
	f.stub.Seed("family", models.RemoteEvent{Summary: "Algot: Handbollsträning", Start: event("", "").Start})
	f.loader.events = f.loader.events[:1]

	report := f.runner.Cleanup(context.Background())
	assert.False(t, report.Failed(), report.Failures)
	assert.Equal(t, 1, report.Pruned)
	assert.Equal(t, 1, report.DuplicateGroups)
	assert.Equal(t, 2, report.Deleted)

	_, ok := f.store.Get("gone")
	assert.False(t, ok)
	remaining := f.stub.Events("family")
	require.Len(t, remaining, 1)
	assert.Equal(t, kept.RemoteEventID, remaining[0].ID)
}

func TestCleanup_SkipsPruningWhenASourceFailed(t *testing.T) {
	f := setup(t, false)
	f.loader.events = []models.Event{event("u1", "Handbollsträning", "Algot")}
	f.runner.Migrate(context.Background())

	f.loader.events = nil
	f.loader.errs = []error{errors.New("feed unreachable")}

	report := f.runner.Cleanup(context.Background())
	assert.Equal(t, 0, report.Pruned)
	assert.True(t, report.Failed())
	assert.NotEmpty(t, report.Notes)
	assert.Equal(t, 1, f.store.Len())
	assert.Len(t, f.stub.Events("family"), 1)
}

func TestDedup_OnlyRequestedCalendars(t *testing.T) {
	f := setup(t, false)
	start := event("", "").Start
	for _, cal := range []string{"family", "svante"} {
		f.stub.Seed(cal, models.RemoteEvent{Summary: "Cup", Start: start})
		f.stub.Seed(cal, models.RemoteEvent{Summary: "cup", Start: start})
	}

	report := f.runner.Dedup(context.Background(), []models.Target{models.TargetPersonA})
	assert.Equal(t, 1, report.Deleted)
	assert.Len(t, f.stub.Events("svante"), 1)
	assert.Len(t, f.stub.Events("family"), 2)
}

func TestForget(t *testing.T) {
	f := setup(t, false)
	f.loader.events = []models.Event{event("u1", "Handbollsträning", "Algot")}
	f.runner.Migrate(context.Background())

	report := f.runner.Forget(context.Background(), "u1")
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 0, f.store.Len())
	assert.Empty(t, f.stub.Events("family"))

	again := f.runner.Forget(context.Background(), "u1")
	assert.Equal(t, 0, again.Deleted)
	assert.NotEmpty(t, again.Notes)
}

func TestDiagnose_IsReadOnly(t *testing.T) {
	f := setup(t, false)
	f.loader.events = []models.Event{event("mapped", "Handbollsträning", "Algot")}
	f.runner.Migrate(context.Background())
	mapped, _ := f.store.Get("mapped")

	start := event("", "").Start
	f.stub.Seed("sarah", models.RemoteEvent{Summary: "Cup", Start: start})
	f.stub.Seed("sarah", models.RemoteEvent{Summary: "Cup", Start: start})
	require.NoError(t, f.store.Put("orphan", "remote-orphan", "family"))
	f.stub.Seed("family", models.RemoteEvent{ID: "remote-orphan", Summary: "Gammal match", Start: start})
	require.NoError(t, f.store.Put("stale", "remote-missing", "family"))
	f.loader.events = append(f.loader.events,
		event("new", "Fotbollsmatch", "Tuva"),
		event("stale", "Innebandy", "Tuva"),
	)
	creates, deletes := f.stub.Creates, f.stub.Deletes

	report := f.runner.Diagnose(context.Background())
	require.NotNil(t, report.Diagnostics)
	d := report.Diagnostics
	assert.Equal(t, 3, d.MappingEntries)
	assert.Equal(t, 1, d.UnmappedEligible)
	assert.Equal(t, 1, d.StaleMappings)
	assert.Equal(t, 1, d.OrphanedMappings)
	assert.Equal(t, 1, d.Duplicates["sarah"])
	assert.Equal(t, creates, f.stub.Creates)
	assert.Equal(t, deletes, f.stub.Deletes)
	assert.Equal(t, 3, f.store.Len())
	_, ok := f.store.Get("mapped")
	assert.True(t, ok)
	assert.NotEmpty(t, mapped.RemoteEventID)

	var out bytes.Buffer
	report.Print(&out)
	assert.Contains(t, out.String(), "famsync diagnostics (dry run) summary")
	assert.Contains(t, out.String(), "duplicates on sarah")
}

func TestDedup_NotesDeletedMappedCopy(t *testing.T) {
	f := setup(t, false)
	start := event("", "").Start
	f.stub.Seed("family", models.RemoteEvent{ID: "r1", Summary: "Cup", Start: start})
	f.stub.Seed("family", models.RemoteEvent{ID: "r2", Summary: "Cup", Start: start})
	require.NoError(t, f.store.Put("u1", "r1", "family"))
	require.NoError(t, f.store.Put("u2", "r2", "family"))

	report := f.runner.Dedup(context.Background(), []models.Target{models.TargetFamily})
	assert.Equal(t, 1, report.Deleted)
	require.Len(t, report.Notes, 1)
	assert.Contains(t, report.Notes[0], "r2")
	assert.Contains(t, report.Notes[0], "stale")
}
