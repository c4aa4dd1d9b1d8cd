// Package sync implements the Database Facade from spec.md §4.5: the
// single public entry point that owns the Store, serializes updates
// through the Applier, and exposes the cross-referenced kanji/name/word
// lookups plus a subscription channel for status changes. Grounded on the
// teacher's Ingester (DB + DictImporter + PoolFactory bundled behind one
// injectable-collaborator type, pkg/ingest/ingest.go) and on Importer's
// sync.RWMutex-guarded cached index (pkg/dictionary/importer.go) as the
// precedent for the cached radical maps.
package sync

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/japaniel/jpdictsync/internal/applier"
	"github.com/japaniel/jpdictsync/internal/downloader"
	"github.com/japaniel/jpdictsync/internal/errs"
	"github.com/japaniel/jpdictsync/internal/model"
	"github.com/japaniel/jpdictsync/internal/reducer"
	"github.com/japaniel/jpdictsync/internal/store"
)

// Status is the client-visible per-series availability (spec.md §4.5),
// distinct from reducer.State's transient update-lifecycle Kind.
type Status int

const (
	StatusInitializing Status = iota
	StatusEmpty
	StatusOk
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "Initializing"
	case StatusEmpty:
		return "Empty"
	case StatusOk:
		return "Ok"
	case StatusUnavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}

// SeriesSet is an unordered request for one or more series.
type SeriesSet map[model.Series]bool

// UpdateOptions is the argument to Update. A nil Series defaults to
// {kanji} (which in turn pulls in radicals, spec.md §4.5).
type UpdateOptions struct {
	Series SeriesSet
	Lang   string
}

// Topic discriminates Notification variants.
type Topic string

const (
	TopicStateUpdated Topic = "stateupdated"
	TopicDeleted      Topic = "deleted"
)

// Notification is published to every subscriber on any per-series
// transition.
type Notification struct {
	Topic         Topic
	Series        model.Series
	Status        Status
	Version       *model.Version
	UpdateState   reducer.State
	CorrelationID string
	Err           error
}

// group is the unit of sequential-within, parallel-across update
// scheduling spec.md §4.5 describes: kanji and radicals always update
// together and in order; names and words are independent groups.
type group string

const (
	groupKanji group = "kanji-group"
	groupNames group = "names"
	groupWords group = "words"
)

var groupOrder = map[group][]model.Series{
	groupKanji: {model.SeriesRadicals, model.SeriesKanji},
	groupNames: {model.SeriesNames},
	groupWords: {model.SeriesWords},
}

func groupFor(s model.Series) group {
	switch s {
	case model.SeriesKanji, model.SeriesRadicals:
		return groupKanji
	case model.SeriesNames:
		return groupNames
	default:
		return groupWords
	}
}

type groupAttempt struct {
	id      string
	lang    string
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	pending SeriesSet
}

// GlossRanker tokenizes text the same way at query time and at apply time,
// so a words-series text query can be matched against the gloss-token
// index the Applier populated (spec.md §4.5's pluggable ranker contract).
type GlossRanker interface {
	Tokenize(text []string) []string
}

// Facade is the engine's single public entry point.
type Facade struct {
	Store         *store.Store
	Downloader    downloader.Downloader
	Applier       *applier.Applier
	Ranker        GlossRanker
	Logger        *log.Logger
	MajorVersions map[model.Series]int

	mu          sync.RWMutex
	status      map[model.Series]Status
	version     map[model.Series]*model.Version
	updateState map[model.Series]reducer.State

	subMu     sync.Mutex
	subs      map[int]chan Notification
	nextSubID int

	groupMu  sync.Mutex
	attempts map[group]*groupAttempt

	radicalsMu      sync.RWMutex
	radicalsByID    map[string]model.RadicalRecord
	charToRadicalID map[string]string
}

// NewFacade wires a Facade over s and dl and loads each series' initial
// status from the store.
func NewFacade(s *store.Store, dl downloader.Downloader) *Facade {
	f := &Facade{
		Store:      s,
		Downloader: dl,
		Applier:    applier.NewApplier(s),
		MajorVersions: map[model.Series]int{
			model.SeriesKanji:    1,
			model.SeriesRadicals: 1,
			model.SeriesNames:    1,
			model.SeriesWords:    1,
		},
		status:      make(map[model.Series]Status),
		version:     make(map[model.Series]*model.Version),
		updateState: make(map[model.Series]reducer.State),
		subs:        make(map[int]chan Notification),
		attempts:    make(map[group]*groupAttempt),
	}
	f.Applier.OnAction = f.handleAction
	for _, series := range model.AllSeries {
		f.status[series] = StatusInitializing
	}
	f.refreshStatus()
	return f
}

func (f *Facade) logf(format string, args ...any) {
	if f.Logger != nil {
		f.Logger.Printf(format, args...)
	}
}

func (f *Facade) refreshStatus() {
	for _, series := range model.AllSeries {
		v, err := f.Store.GetDataVersion(series)
		f.mu.Lock()
		switch {
		case err != nil:
			f.status[series] = StatusUnavailable
		case v == nil:
			f.status[series] = StatusEmpty
		default:
			f.status[series] = StatusOk
			f.version[series] = v
		}
		f.mu.Unlock()
	}
}

// Subscribe registers a Notification channel. Call the returned function
// to unsubscribe and release the channel.
func (f *Facade) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, 16)
	f.subMu.Lock()
	id := f.nextSubID
	f.nextSubID++
	f.subs[id] = ch
	f.subMu.Unlock()
	return ch, func() {
		f.subMu.Lock()
		if _, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(ch)
		}
		f.subMu.Unlock()
	}
}

func (f *Facade) publish(n Notification) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- n:
		default:
			f.logf("sync: dropped notification for %s, subscriber channel full", n.Series)
		}
	}
}

func (f *Facade) statusOf(series model.Series) Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status[series]
}

func (f *Facade) versionOf(series model.Series) *model.Version {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.version[series]
}

func (f *Facade) getUpdateState(series model.Series) reducer.State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.updateState[series]
}

func (f *Facade) setUpdateState(series model.Series, s reducer.State) {
	f.mu.Lock()
	f.updateState[series] = s
	f.mu.Unlock()
}

// Destroy wipes the underlying store and resets every series to Empty,
// notifying subscribers on the "deleted" topic (spec.md §4.1's destroy()).
func (f *Facade) Destroy() error {
	if err := f.Store.Destroy(); err != nil {
		return err
	}
	f.mu.Lock()
	for _, series := range model.AllSeries {
		f.status[series] = StatusEmpty
		f.version[series] = nil
		f.updateState[series] = reducer.State{}
	}
	f.mu.Unlock()
	f.invalidateRadicalCache()
	for _, series := range model.AllSeries {
		f.publish(Notification{Topic: TopicDeleted, Series: series, Status: StatusEmpty})
	}
	return nil
}

// handleAction folds one Applier lifecycle Action into the per-series
// reducer state and publishes the result. Bound to Applier.OnAction once
// at construction; dispatch by act.Series makes it safe for concurrent
// groups to share one Applier instance.
func (f *Facade) handleAction(act applier.Action) {
	series := act.Series
	state := f.getUpdateState(series)

	switch act.Kind {
	case applier.ActionStartDownload:
		state = reducer.Reduce(state, reducer.Action{Kind: reducer.ActionStartDownload, Version: act.Version})
	case applier.ActionDownloadProgress, applier.ActionApplyProgress:
		state = reducer.Reduce(state, reducer.Action{
			Kind:     reducer.ActionProgress,
			Progress: reducer.Progress{Loaded: act.Loaded, Total: act.Total},
		})
	case applier.ActionFinishDownload:
		state = reducer.Reduce(state, reducer.Action{Kind: reducer.ActionFinishDownload, Version: act.Version})
	case applier.ActionVersionApplied:
		state = reducer.Reduce(state, reducer.Action{Kind: reducer.ActionFinishPatch, Version: act.Version})
		v := act.Version
		f.mu.Lock()
		f.version[series] = &v
		f.status[series] = StatusOk
		f.mu.Unlock()
		if series == model.SeriesRadicals {
			f.invalidateRadicalCache()
		}
	case applier.ActionCompleted, applier.ActionFailed:
		// Terminal outcomes are folded by updateSeries, which has the
		// correlation id and the group-level error to report.
		return
	}

	f.setUpdateState(series, state)
	f.publish(Notification{
		Topic:       TopicStateUpdated,
		Series:      series,
		Status:      f.statusOf(series),
		Version:     f.versionOf(series),
		UpdateState: state,
	})
}

// Update starts (or joins) an update for opts.Series, returning a channel
// that receives one error per affected group when that group's attempt
// finishes (nil on success). Series within the kanji-group are always
// updated together and in order; different groups run in parallel.
func (f *Facade) Update(ctx context.Context, opts UpdateOptions) <-chan error {
	requested := opts.Series
	if len(requested) == 0 {
		requested = SeriesSet{model.SeriesKanji: true}
	}
	if requested[model.SeriesKanji] {
		requested = cloneSeriesSet(requested)
		requested[model.SeriesRadicals] = true
	}

	byGroup := map[group]SeriesSet{}
	for s := range requested {
		g := groupFor(s)
		if byGroup[g] == nil {
			byGroup[g] = SeriesSet{}
		}
		byGroup[g][s] = true
	}

	out := make(chan error, len(byGroup))
	var wg sync.WaitGroup
	for g, set := range byGroup {
		wg.Add(1)
		go func(g group, set SeriesSet) {
			defer wg.Done()
			out <- f.joinOrStartGroup(ctx, g, set, opts.Lang)
		}(g, set)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func cloneSeriesSet(s SeriesSet) SeriesSet {
	out := make(SeriesSet, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	return out
}

// joinOrStartGroup implements the coalescing rule in spec.md §4.5: append
// to the in-flight attempt's queue and return its shared outcome, unless
// the in-flight attempt is for a different language, in which case it is
// canceled and restarted.
func (f *Facade) joinOrStartGroup(ctx context.Context, g group, requested SeriesSet, lang string) error {
	for {
		f.groupMu.Lock()
		at, exists := f.attempts[g]
		if exists && at.lang != lang {
			at.cancel()
			f.groupMu.Unlock()
			<-at.done
			continue // restart the loop: the slot is now free (or raced, loop again)
		}
		if exists {
			for s := range requested {
				at.pending[s] = true
			}
			done := at.done
			f.groupMu.Unlock()
			<-done
			return at.err
		}

		attemptCtx, cancel := context.WithCancel(ctx)
		at = &groupAttempt{
			id:      newCorrelationID(),
			lang:    lang,
			cancel:  cancel,
			done:    make(chan struct{}),
			pending: cloneSeriesSet(requested),
		}
		f.attempts[g] = at
		f.groupMu.Unlock()

		at.err = f.runGroup(attemptCtx, g, at)

		f.groupMu.Lock()
		delete(f.attempts, g)
		f.groupMu.Unlock()
		close(at.done)
		return at.err
	}
}

// runGroup applies every requested series in a group's fixed order,
// sequentially (spec.md §4.5: "within a group, series are applied
// sequentially").
func (f *Facade) runGroup(ctx context.Context, g group, at *groupAttempt) error {
	var firstErr error
	for _, series := range groupOrder[g] {
		f.groupMu.Lock()
		wanted := at.pending[series]
		f.groupMu.Unlock()
		if !wanted {
			continue
		}

		err := f.updateSeries(ctx, series, at.lang, at.id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if errors.Is(err, errs.Abort) {
				return firstErr
			}
		}
	}
	return firstErr
}

// updateSeries runs the check-download-apply sequence for one series,
// folding reducer transitions and publishing notifications throughout
// (spec.md §4.2-§4.4).
func (f *Facade) updateSeries(ctx context.Context, series model.Series, lang, correlationID string) error {
	start := time.Now()
	before := f.versionOf(series)
	f.setUpdateState(series, reducer.Reduce(f.getUpdateState(series), reducer.Action{Kind: reducer.ActionStart}))
	f.publish(Notification{Topic: TopicStateUpdated, Series: series, Status: f.statusOf(series), UpdateState: f.getUpdateState(series), CorrelationID: correlationID})

	current, err := f.Store.GetDataVersion(series)
	if err != nil {
		return f.failSeries(series, err, correlationID, start, before)
	}

	major := f.MajorVersions[series]
	if major == 0 {
		major = 1
	}

	stream, err := f.Downloader.Download(ctx, series, major, lang, current, false)
	if err != nil {
		return f.failSeries(series, err, correlationID, start, before)
	}

	if err := f.Applier.Apply(ctx, series, stream); err != nil {
		var se *errs.Error
		if inv, ok := f.Downloader.(interface{ InvalidateManifest(lang string) }); ok &&
			errors.As(err, &se) && (se.Class == errs.ClassNetwork || se.Class == errs.ClassProtocol) {
			inv.InvalidateManifest(lang)
		}
		return f.failSeries(series, err, correlationID, start, before)
	}

	now := time.Now()
	f.setUpdateState(series, reducer.Reduce(f.getUpdateState(series), reducer.Action{Kind: reducer.ActionFinish, CheckDate: &now}))
	f.mu.Lock()
	f.status[series] = StatusOk
	f.mu.Unlock()
	f.publish(Notification{
		Topic:         TopicStateUpdated,
		Series:        series,
		Status:        f.statusOf(series),
		Version:       f.versionOf(series),
		UpdateState:   f.getUpdateState(series),
		CorrelationID: correlationID,
	})
	return nil
}

func (f *Facade) failSeries(series model.Series, err error, correlationID string, start time.Time, before *model.Version) error {
	now := time.Now()
	if errors.Is(err, errs.Abort) {
		// cancelUpdate(): return to idle with lastCheck cleared, unless a
		// partial version already committed during this attempt (the
		// series' recorded version is no longer the one it started with),
		// in which case lastCheck becomes this attempt's start time
		// (spec.md §4.5, §8: partial progress survives cancel).
		state := f.getUpdateState(series)
		if f.versionOf(series) == before {
			state.LastCheck = nil
		} else {
			state.LastCheck = &start
		}
		state.Kind = reducer.KindIdle
		f.setUpdateState(series, state)
	} else {
		f.setUpdateState(series, reducer.Reduce(f.getUpdateState(series), reducer.Action{
			Kind:      reducer.ActionError,
			CheckDate: &now,
			Err:       err,
		}))
	}

	f.mu.Lock()
	if f.status[series] != StatusOk {
		f.status[series] = StatusUnavailable
	}
	f.mu.Unlock()

	f.publish(Notification{
		Topic:         TopicStateUpdated,
		Series:        series,
		Status:        f.statusOf(series),
		UpdateState:   f.getUpdateState(series),
		CorrelationID: correlationID,
		Err:           err,
	})
	return err
}

// CancelUpdate aborts the in-flight attempt covering opts.Series (every
// attempt, if opts.Series is empty) and empties its queue. The Applier
// surfaces errs.Abort to updateSeries, which returns each affected series
// to idle (spec.md §4.5).
func (f *Facade) CancelUpdate(opts UpdateOptions) {
	f.groupMu.Lock()
	defer f.groupMu.Unlock()

	groups := map[group]bool{}
	if len(opts.Series) == 0 {
		for g := range f.attempts {
			groups[g] = true
		}
	} else {
		for s := range opts.Series {
			groups[groupFor(s)] = true
		}
	}
	for g := range groups {
		if at, ok := f.attempts[g]; ok {
			at.pending = SeriesSet{}
			at.cancel()
		}
	}
}

func (f *Facade) invalidateRadicalCache() {
	f.radicalsMu.Lock()
	f.radicalsByID = nil
	f.charToRadicalID = nil
	f.radicalsMu.Unlock()
}

// radicalMaps lazily loads and caches AllRadicals as both an id-keyed map
// and the derived charToRadicalId map (spec.md §4.5), invalidated whenever
// a radicals update commits.
func (f *Facade) radicalMaps() (map[string]model.RadicalRecord, map[string]string, error) {
	f.radicalsMu.RLock()
	if f.radicalsByID != nil {
		byID, c2r := f.radicalsByID, f.charToRadicalID
		f.radicalsMu.RUnlock()
		return byID, c2r, nil
	}
	f.radicalsMu.RUnlock()

	all, err := f.Store.AllRadicals()
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[string]model.RadicalRecord, len(all))
	for _, r := range all {
		byID[r.ID] = r
	}
	c2r := buildCharToRadicalID(all)

	f.radicalsMu.Lock()
	f.radicalsByID = byID
	f.charToRadicalID = c2r
	f.radicalsMu.Unlock()
	return byID, c2r, nil
}
