package model

import "testing"

func TestTableIDMatchesStableSeriesNumbers(t *testing.T) {
	cases := map[Series]int{SeriesKanji: 1, SeriesRadicals: 2, SeriesNames: 3, SeriesWords: 4}
	for series, want := range cases {
		if got := series.TableID(); got != want {
			t.Fatalf("%s.TableID() = %d, want %d", series, got, want)
		}
	}
}

func TestValidRejectsUnknownSeries(t *testing.T) {
	if Series("bogus").Valid() {
		t.Fatal("expected an unknown series to be invalid")
	}
	if !SeriesKanji.Valid() {
		t.Fatal("expected kanji to be valid")
	}
}

func TestErrUnknownSeriesMessage(t *testing.T) {
	err := &ErrUnknownSeries{Series: Series("bogus")}
	if err.Error() == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestVersionEqualIgnoresAncillaryFields(t *testing.T) {
	a := Version{Series: SeriesKanji, Major: 1, Minor: 2, Patch: 3, DateOfCreation: "2026-01-01"}
	b := Version{Series: SeriesKanji, Major: 1, Minor: 2, Patch: 3, DateOfCreation: "2026-02-02"}
	if !a.Equal(b) {
		t.Fatal("expected Equal to ignore DateOfCreation and compare only major.minor.patch")
	}
}

func TestVersionNewerLexicalOrdering(t *testing.T) {
	cases := []struct {
		a, b  Version
		newer bool
	}{
		{Version{Major: 2}, Version{Major: 1}, true},
		{Version{Major: 1}, Version{Major: 2}, false},
		{Version{Major: 1, Minor: 1}, Version{Major: 1, Minor: 0}, true},
		{Version{Major: 1, Minor: 0, Patch: 5}, Version{Major: 1, Minor: 0, Patch: 5}, false},
		{Version{Major: 1, Minor: 0, Patch: 6}, Version{Major: 1, Minor: 0, Patch: 5}, true},
	}
	for _, c := range cases {
		if got := c.a.Newer(c.b); got != c.newer {
			t.Fatalf("%+v.Newer(%+v) = %v, want %v", c.a, c.b, got, c.newer)
		}
	}
}
