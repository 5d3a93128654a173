package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"famsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FAMSYNC_CALENDAR_FAMILY", "family@group.calendar.google.com")
	t.Setenv("FAMSYNC_CALENDAR_PERSONA", "svante@example.com")
	t.Setenv("FAMSYNC_CALENDAR_PERSONB", "sarah@example.com")
	t.Setenv("FAMSYNC_STORAGE_DIR", dir)
	t.Setenv("FAMSYNC_SYNC_CALLSPERSECOND", "5")
	t.Setenv("FAMSYNC_HOUSEHOLD_MEMBERS", "Algot, Tuva ,Ebbe")

	cfg, err := Load(discardLogger(), filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "family@group.calendar.google.com", cfg.Calendar.Family)
	assert.Equal(t, "svante@example.com", cfg.Calendar.IDFor(models.TargetPersonA))
	assert.Equal(t, "sarah@example.com", cfg.Calendar.IDFor(models.TargetPersonB))
	assert.Equal(t, 5.0, cfg.Sync.CallsPerSecond)
	assert.Equal(t, []string{"Algot", "Tuva", "Ebbe"}, cfg.Household.Members)
	assert.Equal(t, 6, cfg.Sync.MonthsAhead)
	assert.Equal(t, filepath.Join(dir, "event-mapping.json"), cfg.MappingPath())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "famsync.yaml")
	yamlBody := `
calendar:
  family: fam
  persona: a
  personb: b
rules:
  allow: ["padel"]
sources:
  ics:
    - name: Klubben
      url: https://example.com/club.ics
      assignees: [Algot]
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, err := Load(discardLogger(), path)
	require.NoError(t, err)

	assert.Equal(t, "fam", cfg.Calendar.Family)
	assert.Equal(t, []string{"padel"}, cfg.Rules.Allow)
	require.Len(t, cfg.Sources.ICS, 1)
	assert.Equal(t, "Klubben", cfg.Sources.ICS[0].Name)
	assert.Equal(t, []string{"Algot"}, cfg.Sources.ICS[0].Assignees)
}

func TestValidate_MissingCalendars(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMissingConfig)
	assert.Contains(t, err.Error(), "FAMSYNC_CALENDAR_FAMILY")
	assert.Contains(t, err.Error(), "FAMSYNC_CALENDAR_PERSONB")
}

func TestWindow(t *testing.T) {
	cfg := Default()
	cfg.Sync.Timezone = "UTC"
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	w := cfg.Window(now)
	assert.Equal(t, time.Date(2025, 2, 15, 12, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC), w.End)
}
