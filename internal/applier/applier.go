// Package applier drives one download's event stream into the store,
// implementing the Update Applier component of spec.md §4.3: pull events
// off an EventStream, accumulate each file's records, commit one
// bulkUpdateTable transaction per file, and report lifecycle Actions the
// reducer can fold into its per-series state.
package applier

import (
	"context"
	"errors"
	"io"
	"log"

	"github.com/japaniel/jpdictsync/internal/downloader"
	"github.com/japaniel/jpdictsync/internal/errs"
	"github.com/japaniel/jpdictsync/internal/model"
	"github.com/japaniel/jpdictsync/internal/store"
)

// ActionKind discriminates the lifecycle events an Applier run emits.
type ActionKind int

const (
	ActionStartDownload ActionKind = iota
	ActionDownloadProgress
	ActionApplyProgress
	ActionFinishDownload
	ActionVersionApplied
	ActionCompleted
	ActionFailed
)

// Action is one lifecycle event reported through Applier.OnAction, meant
// to be fed to internal/reducer.
type Action struct {
	Kind     ActionKind
	Series   model.Series
	Version  model.Version
	Loaded   int
	Total    int
	Err      error
}

// GlossTokenizer tokenizes a word's glosses for the words-series
// gloss-token index. Supplied by internal/ranker; nil disables the index.
type GlossTokenizer interface {
	Tokenize(glosses []string) []string
}

// Applier consumes EventStreams and writes their contents to a Store.
type Applier struct {
	Store     *store.Store
	Tokenizer GlossTokenizer
	Logger    *log.Logger
	OnAction  func(Action)

	guard *seriesGuard
}

// NewApplier constructs an Applier over store.
func NewApplier(s *store.Store) *Applier {
	return &Applier{Store: s, guard: newSeriesGuard()}
}

func (a *Applier) emit(act Action) {
	if a.OnAction != nil {
		a.OnAction(act)
	}
}

func (a *Applier) logf(format string, args ...any) {
	if a.Logger != nil {
		a.Logger.Printf(format, args...)
	}
}

// Apply consumes stream end-to-end for series, committing one
// bulkUpdateTable transaction per file boundary (spec.md §4.1, §4.3).
// Only one Apply per series may be in flight at a time; a second call
// fails immediately with errs.OverlappingUpdate.
func (a *Applier) Apply(ctx context.Context, series model.Series, stream downloader.EventStream) error {
	if a.guard == nil {
		a.guard = newSeriesGuard()
	}
	if err := a.guard.acquire(series); err != nil {
		return err
	}
	defer a.guard.release(series)

	defer func() {
		if ctx.Err() != nil {
			stream.Cancel()
		}
	}()

	var (
		version    model.Version
		haveHeader bool
		partial    bool
		puts       []store.PutRecord
		drops      []model.Key
	)

	flush := func() error {
		if !haveHeader {
			return nil
		}
		req := store.BulkUpdateRequest{
			Series:  series,
			Put:     puts,
			Version: &version,
			OnProgress: func(processed, total int) {
				a.emit(Action{Kind: ActionApplyProgress, Series: series, Loaded: processed, Total: total})
			},
		}
		if !partial {
			req.Drop = store.DropAll
		} else if len(drops) > 0 {
			req.Drop = drops
		}
		if err := a.Store.BulkUpdateTable(req); err != nil {
			return err
		}
		a.emit(Action{Kind: ActionVersionApplied, Series: series, Version: version})
		puts = nil
		drops = nil
		haveHeader = false
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return errs.Abort
		}
		ev, err := stream.Next(ctx)
		if err != nil {
			if err == errs.Abort || ctx.Err() != nil {
				return errs.Abort
			}
			if errors.Is(err, io.EOF) {
				break
			}
			a.emit(Action{Kind: ActionFailed, Series: series, Err: err})
			return err
		}

		switch ev.Kind {
		case downloader.EventVersion:
			if haveHeader {
				err := errs.New(errs.KindUnclosedVersion, "version event while a previous version is still open", nil)
				a.emit(Action{Kind: ActionFailed, Series: series, Err: err})
				return err
			}
			version = ev.Version
			partial = ev.Partial
			haveHeader = true
			puts = nil
			drops = nil
			a.emit(Action{Kind: ActionStartDownload, Series: series, Version: version})
		case downloader.EventEntry:
			var tokens []string
			if series == model.SeriesWords && a.Tokenizer != nil {
				if w, ok := ev.Record.(model.WordRecord); ok {
					tokens = a.Tokenizer.Tokenize(w.Glosses)
				}
			}
			puts = append(puts, store.PutRecord{Key: ev.Key, Record: ev.Record, Tokens: tokens})
		case downloader.EventDeletion:
			if !partial {
				err := errs.New(errs.KindDeletionInSnapshot, "deletion event during a full snapshot", nil)
				a.emit(Action{Kind: ActionFailed, Series: series, Err: err})
				return err
			}
			drops = append(drops, ev.Key)
		case downloader.EventProgress:
			a.emit(Action{Kind: ActionDownloadProgress, Series: series, Loaded: ev.Loaded, Total: ev.Total})
		case downloader.EventVersionEnd:
			a.emit(Action{Kind: ActionFinishDownload, Series: series, Version: version})
			if err := flush(); err != nil {
				a.emit(Action{Kind: ActionFailed, Series: series, Err: err})
				return err
			}
			a.logf("applier: %s advanced to %d.%d.%d", series, version.Major, version.Minor, version.Patch)
		}
	}

	if haveHeader {
		err := errs.New(errs.KindUnclosedVersion, "stream ended with a version still open", nil)
		a.emit(Action{Kind: ActionFailed, Series: series, Err: err})
		return err
	}

	a.emit(Action{Kind: ActionCompleted, Series: series, Version: version})
	return nil
}
