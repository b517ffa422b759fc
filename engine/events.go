package engine

import (
	"github.com/bandapella/translatr-gradle-plugin/fingerprint"
	"github.com/bandapella/translatr-gradle-plugin/remote"
)

// EventKind names a lifecycle event.
type EventKind int

const (
	// EventDiff carries the change counts of the source.
	EventDiff EventKind = iota
	// EventNoChange is emitted when there is nothing to submit.
	EventNoChange
	// EventSubmitted carries the job id.
	EventSubmitted
	// EventProgress carries job progress.
	EventProgress
	// EventLanguageWritten carries the language, path and entry count.
	EventLanguageWritten
	// EventLanguageSkipped is emitted for a language that cannot be
	// written, with the reason in Err.
	EventLanguageSkipped
	// EventDegraded carries the classified error that ended the normal path.
	EventDegraded
	// EventRecordSaved carries the persisted record.
	EventRecordSaved
	// EventDone carries the final outcome.
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventDiff:
		return "diff"
	case EventNoChange:
		return "no_change"
	case EventSubmitted:
		return "submitted"
	case EventProgress:
		return "progress"
	case EventLanguageWritten:
		return "language_written"
	case EventLanguageSkipped:
		return "language_skipped"
	case EventDegraded:
		return "degraded"
	case EventRecordSaved:
		return "record_saved"
	case EventDone:
		return "done"
	}
	return "unknown"
}

// Outcome is the final result of a run.
type Outcome int

const (
	// OutcomeSynced means outputs were written from a successful path.
	OutcomeSynced Outcome = iota
	// OutcomeUnchanged means nothing changed and nothing was written.
	OutcomeUnchanged
	// OutcomeDegraded means the service failed and the run fell back to
	// cached content, or wrote nothing; the record is marked failed.
	OutcomeDegraded
	// OutcomeFailed means the run returned an error.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSynced:
		return "synced"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Event is a lifecycle notification. Only the fields relevant to Kind are
// set.
type Event struct {
	Kind  EventKind
	State State

	Added, Modified, Removed int
	FullResync               bool

	JobID    string
	Progress remote.Progress

	Language string
	Path     string
	Entries  int

	Record  *fingerprint.Record
	Outcome Outcome
	Err     error
}

// Observer receives events synchronously, in order.
type Observer func(Event)

func (e *Engine) emit(ev Event) {
	if e.observer == nil {
		return
	}
	ev.State = e.state
	e.observer(ev)
}
