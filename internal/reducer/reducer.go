// Package reducer implements the Update State Reducer from spec.md §4.4:
// a pure (State, Action) -> State mapping producing the observable
// per-series update status. No teacher file plays this role directly; the
// shape is inferred from the typed lifecycle callbacks already present in
// teacher's Ingester (OnProgress) and expressed here as an explicit pure
// function instead of ad hoc call sites, per spec.md §9's design note.
package reducer

import (
	"time"

	"github.com/japaniel/jpdictsync/internal/model"
)

// Kind is the observable per-series update status.
type Kind int

const (
	KindIdle Kind = iota
	KindChecking
	KindDownloading
	KindUpdatingDB
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindChecking:
		return "checking"
	case KindDownloading:
		return "downloading"
	case KindUpdatingDB:
		return "updatingdb"
	default:
		return "unknown"
	}
}

// Progress is the {loaded, total} pair carried by a downloading state.
type Progress struct {
	Loaded int
	Total  int
}

// State is the per-series status spec.md §4.4 names.
type State struct {
	Kind            Kind
	LastCheck       *time.Time
	DownloadVersion *model.Version
	Progress        Progress
	RetryIntervalMs int
	RetryCount      int
	Err             error
}

// ActionKind discriminates the reducer's input actions.
type ActionKind int

const (
	ActionStart ActionKind = iota
	ActionStartDownload
	ActionProgress
	ActionFinishDownload
	ActionFinishPatch
	ActionFinish
	ActionError
)

// Action is one input to Reduce. Only the fields relevant to Kind matter.
type Action struct {
	Kind ActionKind

	Version   model.Version // StartDownload, FinishDownload, FinishPatch
	Progress  Progress      // Progress
	CheckDate *time.Time    // Finish, Error

	Err             error // Error
	RetryIntervalMs int   // Error: backoff computed by internal/retry
	RetryCount      int   // Error
}

// Reduce maps (state, action) to the next state. It is a pure function:
// given the same inputs it always returns the same output, and it never
// performs I/O.
func Reduce(s State, a Action) State {
	switch a.Kind {
	case ActionStart:
		return State{
			Kind:            KindChecking,
			LastCheck:       s.LastCheck,
			RetryIntervalMs: s.RetryIntervalMs,
			RetryCount:      s.RetryCount,
		}

	case ActionStartDownload:
		v := a.Version
		return State{
			Kind:            KindDownloading,
			LastCheck:       s.LastCheck,
			DownloadVersion: &v,
			RetryIntervalMs: s.RetryIntervalMs,
			RetryCount:      s.RetryCount,
		}

	case ActionProgress:
		next := s
		next.Progress = a.Progress
		return next

	case ActionFinishDownload:
		v := a.Version
		return State{
			Kind:            KindUpdatingDB,
			LastCheck:       s.LastCheck,
			DownloadVersion: &v,
			RetryIntervalMs: s.RetryIntervalMs,
			RetryCount:      s.RetryCount,
		}

	case ActionFinishPatch:
		// A file's bulk write committed and more files remain in the plan:
		// return to downloading for the next file, clearing retry
		// bookkeeping (spec.md §4.4: cleared whenever a download
		// successfully advances).
		v := a.Version
		return State{
			Kind:            KindDownloading,
			LastCheck:       s.LastCheck,
			DownloadVersion: &v,
		}

	case ActionFinish:
		return State{
			Kind:      KindIdle,
			LastCheck: a.CheckDate,
		}

	case ActionError:
		return State{
			Kind:            KindIdle,
			LastCheck:       a.CheckDate,
			Err:             a.Err,
			RetryIntervalMs: a.RetryIntervalMs,
			RetryCount:      a.RetryCount,
		}

	default:
		return s
	}
}
