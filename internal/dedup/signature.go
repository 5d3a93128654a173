package dedup

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// namePrefix matches a leading "Name: " as written on legacy events. The name
// is a single token; "Handboll herr: Match" keeps its prefix.
var namePrefix = regexp.MustCompile(`^\s*\p{L}[\p{L}\p{M}'-]*\s*:\s*`)

// Normalize lower-cases a summary and strips a leading "Name: " prefix.
func Normalize(summary string) string {
	return strings.ToLower(strings.TrimSpace(namePrefix.ReplaceAllString(summary, "")))
}

// Signature is the logical identity of a remote event: two events with the
// same signature are duplicates whatever their remote ids.
func Signature(summary string, start time.Time) string {
	return Normalize(summary) + "_" + strconv.FormatInt(start.Unix(), 10)
}
