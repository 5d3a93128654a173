package models

// MappingEntry links a local event to its remote counterpart.
// RemoteEventID is only meaningful within RemoteCalendarID.
type MappingEntry struct {
	RemoteEventID    string `json:"remoteEventId"`
	RemoteCalendarID string `json:"remoteCalendarId"`
}

// Target is the logical remote calendar an event is routed to.
type Target string

const (
	TargetFamily  Target = "family"
	TargetPersonA Target = "personA"
	TargetPersonB Target = "personB"
)

// Targets lists every routing target in a stable order.
var Targets = []Target{TargetFamily, TargetPersonA, TargetPersonB}

func (t Target) String() string {
	return string(t)
}
