package sources

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"famsync/internal/models"

	"github.com/google/uuid"
)

// NewLocalEvent creates an event owned by the household system with a fresh uid.
func NewLocalEvent(summary string, start, end time.Time, assignees []string) models.Event {
	return models.Event{
		UID:       uuid.NewString(),
		Summary:   summary,
		Start:     start,
		End:       end,
		Assignees: assignees,
		Source:    models.SourceLocal,
	}
}

// LoadLocalEvents reads locally created events. A missing file is empty.
func LoadLocalEvents(path string) ([]models.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read local events: %w", err)
	}
	var events []models.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to decode local events %s: %w", path, err)
	}
	for i := range events {
		if events[i].Source == "" {
			events[i].Source = models.SourceLocal
		}
	}
	return events, nil
}

// SaveLocalEvents rewrites the local events file.
func SaveLocalEvents(path string, events []models.Event) error {
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal local events: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write local events: %w", err)
	}
	return os.Rename(tmp, path)
}
