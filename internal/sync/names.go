package sync

import "github.com/japaniel/jpdictsync/internal/model"

// GetNames delegates to the store's kana-equivalence-ranked name lookup
// (spec.md §4.5's getNames); all of the ranking logic already lives at
// the store layer.
func (f *Facade) GetNames(query string) ([]model.NameRecord, error) {
	return f.Store.GetNames(query)
}

// GetWords mirrors GetNames for the optional words series, additionally
// tokenizing query through the pluggable ranker so it can be matched
// against the gloss-token index the Applier populated at apply time
// (spec.md §4.5's "pluggable ranker" contract).
func (f *Facade) GetWords(query string) ([]model.WordRecord, error) {
	var tokens []string
	if f.Ranker != nil {
		tokens = f.Ranker.Tokenize([]string{query})
	}
	return f.Store.GetWords(query, tokens)
}
