package reconcile

import "famsync/internal/models"

// Kind is the result class of reconciling one local event.
type Kind int

const (
	Pushed Kind = iota
	SkippedAlreadyMapped
	SkippedIneligible
	SkippedDryRun
	Failed
)

func (k Kind) String() string {
	switch k {
	case Pushed:
		return "pushed"
	case SkippedAlreadyMapped:
		return "already-mapped"
	case SkippedIneligible:
		return "ineligible"
	case SkippedDryRun:
		return "dry-run"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Outcome carries enough context to resolve a failure by hand.
type Outcome struct {
	Kind       Kind
	UID        string
	Summary    string
	Target     models.Target
	CalendarID string
	RemoteID   string
	Reason     string
	Err        error
}

func (o Outcome) fail(err error) Outcome {
	o.Kind = Failed
	o.Err = err
	o.Reason = err.Error()
	return o
}
