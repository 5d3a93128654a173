package mapping

import (
	"encoding/json"
	"log/slog"
	"os"
	"sort"
)

// IgnoreList holds local uids the user has suppressed from reconciliation.
type IgnoreList struct {
	path   string
	logger *slog.Logger
	uids   map[string]struct{}
}

// OpenIgnoreList loads the ignore list at path. Like the mapping store it
// fails closed to an empty list on a corrupt file.
func OpenIgnoreList(logger *slog.Logger, path string) *IgnoreList {
	l := &IgnoreList{path: path, logger: logger, uids: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("Ignore list unreadable, continuing without it.", "file", path, "error", err)
		}
		return l
	}
	var uids []string
	if err := json.Unmarshal(data, &uids); err != nil {
		logger.Error("Ignore list corrupt, continuing without it.", "file", path, "error", err)
		return l
	}
	for _, uid := range uids {
		l.uids[uid] = struct{}{}
	}
	return l
}

func (l *IgnoreList) Contains(uid string) bool {
	_, ok := l.uids[uid]
	return ok
}

func (l *IgnoreList) Add(uid string) error {
	if l.Contains(uid) {
		return nil
	}
	l.uids[uid] = struct{}{}
	if err := writeJSON(l.path, l.All()); err != nil {
		delete(l.uids, uid)
		return err
	}
	return nil
}

func (l *IgnoreList) Remove(uid string) error {
	if !l.Contains(uid) {
		return nil
	}
	delete(l.uids, uid)
	if err := writeJSON(l.path, l.All()); err != nil {
		l.uids[uid] = struct{}{}
		return err
	}
	return nil
}

// All returns the ignored uids sorted.
func (l *IgnoreList) All() []string {
	out := make([]string, 0, len(l.uids))
	for uid := range l.uids {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}
