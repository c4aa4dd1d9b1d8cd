package sync

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/japaniel/jpdictsync/internal/downloader"
	"github.com/japaniel/jpdictsync/internal/errs"
	"github.com/japaniel/jpdictsync/internal/model"
	"github.com/japaniel/jpdictsync/internal/reducer"
	"github.com/japaniel/jpdictsync/internal/store"
)

// emptyStream is an EventStream carrying a single empty snapshot for
// whatever series it is asked to stream.
type emptyStream struct {
	version model.Version
	sent    bool
	ended   bool
}

func (e *emptyStream) Next(ctx context.Context) (*downloader.Event, error) {
	if !e.sent {
		e.sent = true
		return &downloader.Event{Kind: downloader.EventVersion, Version: e.version}, nil
	}
	if !e.ended {
		e.ended = true
		return &downloader.Event{Kind: downloader.EventVersionEnd, Version: e.version}, nil
	}
	return nil, io.EOF
}
func (e *emptyStream) Cancel() {}

// stubDownloader hands back a pre-scripted stream or error per series,
// with an optional counter of calls and a delay hook to stretch the
// in-flight window for coalescing tests.
type stubDownloader struct {
	mu       sync.Mutex
	calls    int
	err      error
	delay    time.Duration
	major    int
}

func (d *stubDownloader) Download(ctx context.Context, series model.Series, majorVersion int, lang string, current *model.Version, forceFetch bool) (downloader.EventStream, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, errs.Abort
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return &emptyStream{version: model.Version{Series: series, Major: majorVersion, DateOfCreation: "2026-01-01"}}, nil
}

func (d *stubDownloader) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func TestUpdateDefaultsToKanjiGroupAndPullsInRadicals(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()
	dl := &stubDownloader{}
	f := NewFacade(s, dl)

	errCh := f.Update(context.Background(), UpdateOptions{})
	for err := range errCh {
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	if f.statusOf(model.SeriesKanji) != StatusOk || f.statusOf(model.SeriesRadicals) != StatusOk {
		t.Fatalf("expected kanji and radicals both Ok, got kanji=%s radicals=%s", f.statusOf(model.SeriesKanji), f.statusOf(model.SeriesRadicals))
	}
}

func TestUpdateEmitsUpdatingDBStateWhileCommittingToStore(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()
	dl := &stubDownloader{}
	f := NewFacade(s, dl)

	notifications, unsubscribe := f.Subscribe()
	defer unsubscribe()

	errCh := f.Update(context.Background(), UpdateOptions{Series: SeriesSet{model.SeriesNames: true}})

	var sawUpdatingDB bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for n := range notifications {
			if n.UpdateState.Kind == reducer.KindUpdatingDB {
				sawUpdatingDB = true
			}
		}
	}()

	for err := range errCh {
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	unsubscribe()
	<-done

	if !sawUpdatingDB {
		t.Fatal("expected a notification carrying UpdateState.Kind == KindUpdatingDB while the commit to the store was in flight")
	}
}

func TestUpdateRunsNamesAndWordsAsIndependentGroups(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()
	dl := &stubDownloader{}
	f := NewFacade(s, dl)

	errCh := f.Update(context.Background(), UpdateOptions{Series: SeriesSet{model.SeriesNames: true, model.SeriesWords: true}})
	count := 0
	for err := range errCh {
		count++
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	if count != 2 {
		t.Fatalf("expected one result per group (names, words), got %d", count)
	}
	if f.statusOf(model.SeriesNames) != StatusOk || f.statusOf(model.SeriesWords) != StatusOk {
		t.Fatalf("expected names and words both Ok")
	}
}

func TestUpdateCoalescesOverlappingCallsForSameGroup(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()
	dl := &stubDownloader{delay: 50 * time.Millisecond}
	f := NewFacade(s, dl)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh := f.Update(context.Background(), UpdateOptions{Series: SeriesSet{model.SeriesNames: true}})
			for err := range errCh {
				if err != nil {
					t.Errorf("Update: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if got := dl.callCount(); got != 1 {
		t.Fatalf("expected exactly one Download call across 5 coalesced Update calls, got %d", got)
	}
}

func TestUpdateRestartsGroupOnLanguageChange(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()
	dl := &stubDownloader{delay: 80 * time.Millisecond}
	f := NewFacade(s, dl)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh := f.Update(context.Background(), UpdateOptions{Series: SeriesSet{model.SeriesNames: true}, Lang: "en"})
		for range errCh {
		}
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		errCh := f.Update(context.Background(), UpdateOptions{Series: SeriesSet{model.SeriesNames: true}, Lang: "ja"})
		for range errCh {
		}
	}()
	wg.Wait()

	if got := dl.callCount(); got < 2 {
		t.Fatalf("expected the language change to cancel and restart the group, got %d Download calls", got)
	}
}

func TestCancelUpdateReturnsSeriesToIdle(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()
	dl := &stubDownloader{delay: time.Second}
	f := NewFacade(s, dl)

	errCh := f.Update(context.Background(), UpdateOptions{Series: SeriesSet{model.SeriesNames: true}})
	time.Sleep(20 * time.Millisecond)
	f.CancelUpdate(UpdateOptions{Series: SeriesSet{model.SeriesNames: true}})

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected cancellation to surface an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for canceled update to finish")
	}

	state := f.getUpdateState(model.SeriesNames)
	if state.Kind.String() != "idle" {
		t.Fatalf("expected names series back to idle after cancel, got %s", state.Kind)
	}
}

// partialPatchStream commits one file as a patch, then blocks until its
// context is canceled, letting tests land a cancel after a partial commit.
type partialPatchStream struct {
	version model.Version
	step    int
}

func (p *partialPatchStream) Next(ctx context.Context) (*downloader.Event, error) {
	p.step++
	switch p.step {
	case 1:
		return &downloader.Event{Kind: downloader.EventVersion, Version: p.version, Partial: true}, nil
	case 2:
		return &downloader.Event{Kind: downloader.EventEntry, Key: 1, Record: model.NameRecord{ID: 1, Kana: []string{"たなか"}}}, nil
	case 3:
		return &downloader.Event{Kind: downloader.EventVersionEnd, Version: p.version, Partial: true}, nil
	default:
		<-ctx.Done()
		return nil, ctx.Err()
	}
}
func (p *partialPatchStream) Cancel() {}

type partialPatchDownloader struct{}

func (d *partialPatchDownloader) Download(ctx context.Context, series model.Series, majorVersion int, lang string, current *model.Version, forceFetch bool) (downloader.EventStream, error) {
	return &partialPatchStream{version: model.Version{Series: series, Major: majorVersion, DateOfCreation: "2026-01-01"}}, nil
}

func TestFailSeriesSetsLastCheckOnPartialCommitBeforeCancel(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()
	f := NewFacade(s, &partialPatchDownloader{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := f.Update(ctx, UpdateOptions{Series: SeriesSet{model.SeriesNames: true}})
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected cancellation to surface an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for canceled update to finish")
	}

	state := f.getUpdateState(model.SeriesNames)
	if state.Kind.String() != "idle" {
		t.Fatalf("expected names series back to idle after cancel, got %s", state.Kind)
	}
	if state.DownloadVersion == nil {
		t.Fatal("expected the partial patch's version to still be recorded")
	}
	if state.LastCheck == nil {
		t.Fatal("expected lastCheck to be set to the update attempt's start time after a partial commit survives cancel")
	}
}

func TestFailSeriesMarksUnavailableOnNonRetriableError(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()
	dl := &stubDownloader{err: errs.New(errs.KindVersionMismatch, "stub mismatch", nil)}
	f := NewFacade(s, dl)

	errCh := f.Update(context.Background(), UpdateOptions{Series: SeriesSet{model.SeriesNames: true}})
	for err := range errCh {
		if err == nil {
			t.Fatal("expected an error from a failing download")
		}
	}

	if f.statusOf(model.SeriesNames) != StatusUnavailable {
		t.Fatalf("expected Unavailable status, got %s", f.statusOf(model.SeriesNames))
	}
}
