package sync

import (
	"testing"

	"github.com/japaniel/jpdictsync/internal/model"
	"github.com/japaniel/jpdictsync/internal/store"
)

type stubRanker struct{ tokenize func([]string) []string }

func (r stubRanker) Tokenize(text []string) []string { return r.tokenize(text) }

func TestGetNamesDelegatesToStore(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()
	seedNamesForSync(t, s, []model.NameRecord{{ID: 1, Kanji: []string{"田中"}}})

	f := NewFacade(s, nil)
	out, err := f.GetNames("田中")
	if err != nil {
		t.Fatalf("GetNames: %v", err)
	}
	if len(out) != 1 || out[0].ID != 1 {
		t.Fatalf("expected delegated exact match, got %+v", out)
	}
}

func TestGetWordsTokenizesQueryThroughRanker(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()

	rec := model.WordRecord{ID: 1, Kanji: []string{"犬"}, Kana: []string{"いぬ"}, Glosses: []string{"dog"}}
	v := model.Version{Series: model.SeriesWords, Major: 1, DateOfCreation: "2026-01-01"}
	if err := s.BulkUpdateTable(store.BulkUpdateRequest{
		Series: model.SeriesWords,
		Put:    []store.PutRecord{{Key: rec.ID, Record: rec, Tokens: []string{"dog"}}},
		Drop:   store.DropAll, Version: &v,
	}); err != nil {
		t.Fatalf("seed word: %v", err)
	}

	f := NewFacade(s, nil)
	var gotArg []string
	f.Ranker = stubRanker{tokenize: func(text []string) []string {
		gotArg = text
		return []string{"dog"}
	}}

	out, err := f.GetWords("dogs")
	if err != nil {
		t.Fatalf("GetWords: %v", err)
	}
	if len(gotArg) != 1 || gotArg[0] != "dogs" {
		t.Fatalf("expected the query passed to the ranker verbatim, got %+v", gotArg)
	}
	if len(out) != 1 || out[0].ID != 1 {
		t.Fatalf("expected the word matched via its tokenized gloss, got %+v", out)
	}
}

func TestGetWordsWithoutRankerStillMatchesKanjiAndKana(t *testing.T) {
	s := store.New(":memory:")
	defer s.Close()

	rec := model.WordRecord{ID: 1, Kanji: []string{"犬"}, Kana: []string{"いぬ"}}
	v := model.Version{Series: model.SeriesWords, Major: 1, DateOfCreation: "2026-01-01"}
	if err := s.BulkUpdateTable(store.BulkUpdateRequest{
		Series: model.SeriesWords, Put: []store.PutRecord{{Key: rec.ID, Record: rec}}, Drop: store.DropAll, Version: &v,
	}); err != nil {
		t.Fatalf("seed word: %v", err)
	}

	f := NewFacade(s, nil)
	out, err := f.GetWords("犬")
	if err != nil {
		t.Fatalf("GetWords: %v", err)
	}
	if len(out) != 1 || out[0].ID != 1 {
		t.Fatalf("expected a kanji-spelling match without any ranker configured, got %+v", out)
	}
}

func seedNamesForSync(t *testing.T, s *store.Store, records []model.NameRecord) {
	t.Helper()
	puts := make([]store.PutRecord, len(records))
	for i, r := range records {
		puts[i] = store.PutRecord{Key: r.ID, Record: r}
	}
	v := model.Version{Series: model.SeriesNames, Major: 1, DateOfCreation: "2026-01-01"}
	if err := s.BulkUpdateTable(store.BulkUpdateRequest{Series: model.SeriesNames, Put: puts, Drop: store.DropAll, Version: &v}); err != nil {
		t.Fatalf("seed names: %v", err)
	}
}
