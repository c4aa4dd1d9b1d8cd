// Package downloader turns (series, major-version, language, current
// version?) into a lazy, cancellable sequence of typed events per
// spec.md §4.2: version headers, entry records, deletion records, and
// progress ticks.
package downloader

import (
	"context"
	"io"

	"github.com/japaniel/jpdictsync/internal/model"
)

// EventKind discriminates the variants of a download event.
type EventKind int

const (
	EventVersion EventKind = iota
	EventEntry
	EventDeletion
	EventProgress
	EventVersionEnd
)

// Event is one item in a download's event sequence. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// EventVersion / EventVersionEnd
	Version model.Version
	Partial bool

	// EventEntry / EventDeletion
	Key    model.Key
	Record any

	// EventProgress
	Loaded int
	Total  int
}

// EventStream is a lazy, cancellable sequence of Events for one download
// attempt (spanning a snapshot plus zero or more patches for one series).
// Next returns io.EOF when the sequence is exhausted; after Cancel, Next
// returns errs.Abort and no further events are emitted.
type EventStream interface {
	Next(ctx context.Context) (*Event, error)
	Cancel()
}

// Downloader resolves a (series, majorVersion, lang) request against
// current local state into a plan and returns a lazy EventStream over it.
// HTTPDownloader is the production implementation; LocalDownloader serves
// tests and fully offline bundles.
type Downloader interface {
	Download(ctx context.Context, series model.Series, majorVersion int, lang string, current *model.Version, forceFetch bool) (EventStream, error)
}

// Drain reads every remaining event from stream, invoking fn for each. It
// stops and returns fn's error immediately, or nil at io.EOF.
func Drain(ctx context.Context, stream EventStream, fn func(*Event) error) error {
	for {
		ev, err := stream.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
