package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"famsync/internal/models"
)

// Pair is one row of the mapping store.
type Pair struct {
	LocalUID string
	Entry    models.MappingEntry
}

// Store is the identity mapping from local event uid to remote event.
// The file is read fully on Open and rewritten fully on every mutation.
//
// Only one process may use a given file at a time: two writers each holding
// their own in-memory copy will overwrite each other's entries. Callers
// guard this with internal/runlock.
type Store struct {
	path    string
	logger  *slog.Logger
	entries map[string]models.MappingEntry
	corrupt bool
}

// Open loads the mapping file at path. A missing file yields an empty store.
// An unreadable or corrupt file also yields an empty store, logged at error
// level, because every unmapped event will be pushed again on the next run.
func Open(logger *slog.Logger, path string) *Store {
	s := &Store{
		path:    path,
		logger:  logger,
		entries: make(map[string]models.MappingEntry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("No mapping file found, starting fresh.", "file", path)
		} else {
			s.corrupt = true
			logger.Error("MAPPING STORE UNREADABLE, continuing with an empty mapping; duplicates may be pushed and must be removed with dedup",
				"file", path, "error", err)
		}
		return s
	}
	if len(data) == 0 {
		return s
	}

	var entries map[string]models.MappingEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.corrupt = true
		logger.Error("MAPPING STORE CORRUPT, continuing with an empty mapping; duplicates may be pushed and must be removed with dedup",
			"file", path, "error", err)
		return s
	}
	for uid, e := range entries {
		if uid == "" || e.RemoteEventID == "" {
			logger.Warn("Dropping malformed mapping entry.", "uid", uid, "remoteEventId", e.RemoteEventID)
			continue
		}
		s.entries[uid] = e
	}
	logger.Debug("Loaded mapping store.", "file", path, "entries", len(s.entries))
	return s
}

// Corrupt reports whether Open had to discard an unreadable file.
func (s *Store) Corrupt() bool {
	return s.corrupt
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Len() int {
	return len(s.entries)
}

// Get returns the mapping entry for a local uid.
func (s *Store) Get(localUID string) (models.MappingEntry, bool) {
	e, ok := s.entries[localUID]
	return e, ok
}

// Put records a mapping and persists the whole store. On a failed write the
// in-memory state is rolled back so memory never claims more than disk.
func (s *Store) Put(localUID, remoteEventID, remoteCalendarID string) error {
	if localUID == "" || remoteEventID == "" || remoteCalendarID == "" {
		return errors.New("mapping: uid, remote event id and calendar id are required")
	}
	prev, had := s.entries[localUID]
	s.entries[localUID] = models.MappingEntry{RemoteEventID: remoteEventID, RemoteCalendarID: remoteCalendarID}
	if err := s.save(); err != nil {
		if had {
			s.entries[localUID] = prev
		} else {
			delete(s.entries, localUID)
		}
		return err
	}
	return nil
}

// Remove deletes the mapping for a local uid. Removing an unknown uid is a no-op.
func (s *Store) Remove(localUID string) error {
	prev, had := s.entries[localUID]
	if !had {
		return nil
	}
	delete(s.entries, localUID)
	if err := s.save(); err != nil {
		s.entries[localUID] = prev
		return err
	}
	return nil
}

// All returns every mapping sorted by local uid.
func (s *Store) All() []Pair {
	out := make([]Pair, 0, len(s.entries))
	for uid, e := range s.entries {
		out = append(out, Pair{LocalUID: uid, Entry: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalUID < out[j].LocalUID })
	return out
}

// FindByRemote returns the local uid mapped to a remote event on a calendar.
func (s *Store) FindByRemote(calendarID, remoteEventID string) (string, bool) {
	for uid, e := range s.entries {
		if e.RemoteEventID == remoteEventID && e.RemoteCalendarID == calendarID {
			return uid, true
		}
	}
	return "", false
}

// IsMapped reports whether a remote event is the mapped counterpart of any local event.
func (s *Store) IsMapped(calendarID, remoteEventID string) bool {
	_, ok := s.FindByRemote(calendarID, remoteEventID)
	return ok
}

func (s *Store) save() error {
	return writeJSON(s.path, s.entries)
}

// writeJSON replaces path atomically with the indented JSON of v.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
