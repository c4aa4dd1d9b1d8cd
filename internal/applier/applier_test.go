package applier

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/japaniel/jpdictsync/internal/downloader"
	"github.com/japaniel/jpdictsync/internal/errs"
	"github.com/japaniel/jpdictsync/internal/model"
	"github.com/japaniel/jpdictsync/internal/store"
)

// fakeStream replays a fixed event slice, matching downloader.EventStream.
type fakeStream struct {
	events   []downloader.Event
	i        int
	canceled bool
}

func (f *fakeStream) Next(ctx context.Context) (*downloader.Event, error) {
	if f.canceled {
		return nil, context.Canceled
	}
	if f.i >= len(f.events) {
		return nil, io.EOF
	}
	ev := f.events[f.i]
	f.i++
	return &ev, nil
}

func (f *fakeStream) Cancel() { f.canceled = true }

func snapshotStream(version model.Version, entries []downloader.Event) *fakeStream {
	events := append([]downloader.Event{{Kind: downloader.EventVersion, Version: version, Partial: false}}, entries...)
	events = append(events, downloader.Event{Kind: downloader.EventVersionEnd, Version: version, Partial: false})
	return &fakeStream{events: events}
}

func TestApplyCommitsSnapshotAndEmitsLifecycleActions(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()

	version := model.Version{Series: model.SeriesKanji, Major: 1, DateOfCreation: "2026-01-01"}
	stream := snapshotStream(version, []downloader.Event{
		{Kind: downloader.EventEntry, Key: 0x5F15, Record: model.KanjiRecord{CodePoint: 0x5F15, Character: "引"}},
	})

	a := NewApplier(s)
	var actions []Action
	a.OnAction = func(act Action) { actions = append(actions, act) }

	if err := a.Apply(context.Background(), model.SeriesKanji, stream); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, err := s.GetDataVersion(model.SeriesKanji)
	if err != nil {
		t.Fatalf("GetDataVersion: %v", err)
	}
	if got == nil || !got.Equal(version) {
		t.Fatalf("expected committed version %+v, got %+v", version, got)
	}

	var sawStart, sawFinishDownload, sawApplied, sawCompleted bool
	for i, act := range actions {
		switch act.Kind {
		case ActionStartDownload:
			sawStart = true
			if !act.Version.Equal(version) {
				t.Fatalf("expected ActionStartDownload to carry the stream's version, got %+v", act.Version)
			}
		case ActionFinishDownload:
			sawFinishDownload = true
			if sawApplied {
				t.Fatalf("expected ActionFinishDownload before ActionVersionApplied, actions: %+v", actions)
			}
		case ActionVersionApplied:
			sawApplied = true
			if !sawFinishDownload {
				t.Fatalf("expected ActionFinishDownload to precede ActionVersionApplied at index %d, actions: %+v", i, actions)
			}
		case ActionCompleted:
			sawCompleted = true
		}
	}
	if !sawStart || !sawFinishDownload || !sawApplied || !sawCompleted {
		t.Fatalf("expected ActionStartDownload, ActionFinishDownload, ActionVersionApplied and ActionCompleted, got %+v", actions)
	}
}

func TestApplyPatchDropsByKey(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()

	v1 := model.Version{Series: model.SeriesKanji, Major: 1, DateOfCreation: "2026-01-01"}
	seed := snapshotStream(v1, []downloader.Event{
		{Kind: downloader.EventEntry, Key: 1, Record: model.KanjiRecord{CodePoint: 1, Character: "一"}},
		{Kind: downloader.EventEntry, Key: 2, Record: model.KanjiRecord{CodePoint: 2, Character: "二"}},
	})
	a := NewApplier(s)
	if err := a.Apply(context.Background(), model.SeriesKanji, seed); err != nil {
		t.Fatalf("seed Apply: %v", err)
	}

	v2 := model.Version{Series: model.SeriesKanji, Major: 1, Minor: 1, DateOfCreation: "2026-01-02"}
	patch := &fakeStream{events: []downloader.Event{
		{Kind: downloader.EventVersion, Version: v2, Partial: true},
		{Kind: downloader.EventDeletion, Key: 1},
		{Kind: downloader.EventVersionEnd, Version: v2, Partial: true},
	}}
	if err := a.Apply(context.Background(), model.SeriesKanji, patch); err != nil {
		t.Fatalf("patch Apply: %v", err)
	}

	recs, err := s.GetKanji([]int{1, 2})
	if err != nil {
		t.Fatalf("GetKanji: %v", err)
	}
	if len(recs) != 1 || recs[0].Character != "二" {
		t.Fatalf("expected only code point 2 to survive the patch, got %+v", recs)
	}
}

func TestApplyRejectsOverlappingUpdatesForSameSeries(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()
	a := NewApplier(s)

	if err := a.guard.acquire(model.SeriesKanji); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer a.guard.release(model.SeriesKanji)

	stream := snapshotStream(model.Version{Series: model.SeriesKanji, Major: 1, DateOfCreation: "2026-01-01"}, nil)
	err := a.Apply(context.Background(), model.SeriesKanji, stream)
	if err == nil {
		t.Fatal("expected overlapping-update error")
	}
}

func TestApplyTokenizesWordGlosses(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()

	a := NewApplier(s)
	a.Tokenizer = stubTokenizer{}

	version := model.Version{Series: model.SeriesWords, Major: 1, DateOfCreation: "2026-01-01"}
	stream := snapshotStream(version, []downloader.Event{
		{Kind: downloader.EventEntry, Key: 1, Record: model.WordRecord{ID: 1, Kanji: []string{"犬"}, Kana: []string{"いぬ"}, Glosses: []string{"dog"}}},
	})

	if err := a.Apply(context.Background(), model.SeriesWords, stream); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, err := s.GetWords("", []string{"dog-tok"})
	if err != nil {
		t.Fatalf("GetWords: %v", err)
	}
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected the word to be found via its tokenized gloss, got %+v", got)
	}
}

func TestApplyFailsOnSecondVersionEventBeforeVersionEnd(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()
	a := NewApplier(s)

	v1 := model.Version{Series: model.SeriesKanji, Major: 1, DateOfCreation: "2026-01-01"}
	v2 := model.Version{Series: model.SeriesKanji, Major: 2, DateOfCreation: "2026-01-02"}
	stream := &fakeStream{events: []downloader.Event{
		{Kind: downloader.EventVersion, Version: v1, Partial: false},
		{Kind: downloader.EventVersion, Version: v2, Partial: false},
	}}

	err := a.Apply(context.Background(), model.SeriesKanji, stream)
	if !errors.Is(err, errs.New(errs.KindUnclosedVersion, "", nil)) {
		t.Fatalf("expected an unclosed-version error, got %v", err)
	}
}

func TestApplyFailsWhenStreamEndsWithVersionStillOpen(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()
	a := NewApplier(s)

	v1 := model.Version{Series: model.SeriesKanji, Major: 1, DateOfCreation: "2026-01-01"}
	stream := &fakeStream{events: []downloader.Event{
		{Kind: downloader.EventVersion, Version: v1, Partial: false},
		{Kind: downloader.EventEntry, Key: 1, Record: model.KanjiRecord{CodePoint: 1, Character: "一"}},
	}}

	err := a.Apply(context.Background(), model.SeriesKanji, stream)
	if !errors.Is(err, errs.New(errs.KindUnclosedVersion, "", nil)) {
		t.Fatalf("expected an unclosed-version error, got %v", err)
	}
}

func TestApplyFailsOnDeletionDuringFullSnapshot(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()
	a := NewApplier(s)

	v1 := model.Version{Series: model.SeriesKanji, Major: 1, DateOfCreation: "2026-01-01"}
	stream := &fakeStream{events: []downloader.Event{
		{Kind: downloader.EventVersion, Version: v1, Partial: false},
		{Kind: downloader.EventDeletion, Key: 1},
		{Kind: downloader.EventVersionEnd, Version: v1, Partial: false},
	}}

	err := a.Apply(context.Background(), model.SeriesKanji, stream)
	if !errors.Is(err, errs.New(errs.KindDeletionInSnapshot, "", nil)) {
		t.Fatalf("expected a deletion-in-snapshot error, got %v", err)
	}
}

type stubTokenizer struct{}

func (stubTokenizer) Tokenize(glosses []string) []string {
	out := make([]string, len(glosses))
	for i, g := range glosses {
		out[i] = g + "-tok"
	}
	return out
}
