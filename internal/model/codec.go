package model

import (
	"encoding/json"
	"fmt"
)

// EntryCodec is the small per-series capability set the Downloader and
// Update Applier dispatch through instead of a type switch: it knows how
// to recognize a deletion line, decode an entry line into its persisted
// record plus key, and decode a deletion line into its key. See spec.md
// §9 ("Polymorphism").
type EntryCodec interface {
	Series() Series
	// IsDeletion reports whether line carries `"deleted":true`.
	IsDeletion(line []byte) (bool, error)
	// DecodeEntry validates and converts an entry line into its record and key.
	DecodeEntry(line []byte) (key Key, rec any, err error)
	// DecodeDeletion extracts the key from a deletion line.
	DecodeDeletion(line []byte) (key Key, err error)
}

// InvalidRecordError reports a line that is neither a valid entry nor a
// valid deletion for its series.
type InvalidRecordError struct {
	Series Series
	Reason string
	Line   string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("model: invalid %s record: %s: %s", e.Series, e.Reason, e.Line)
}

func peekDeleted(line []byte) (bool, error) {
	var probe struct {
		Deleted bool `json:"deleted"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return false, err
	}
	return probe.Deleted, nil
}

// --- kanji ---

type kanjiCodec struct{}

// KanjiCodec is the EntryCodec for the kanji series.
var KanjiCodec EntryCodec = kanjiCodec{}

func (kanjiCodec) Series() Series { return SeriesKanji }

func (kanjiCodec) IsDeletion(line []byte) (bool, error) { return peekDeleted(line) }

func (kanjiCodec) DecodeEntry(line []byte) (Key, any, error) {
	var rec KanjiRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, nil, &InvalidRecordError{Series: SeriesKanji, Reason: err.Error(), Line: string(line)}
	}
	runes := []rune(rec.Character)
	if len(runes) != 1 {
		return nil, nil, &InvalidRecordError{Series: SeriesKanji, Reason: "character field must be exactly one rune", Line: string(line)}
	}
	rec.CodePoint = int(runes[0])
	return rec.CodePoint, rec, nil
}

func (kanjiCodec) DecodeDeletion(line []byte) (Key, error) {
	var del struct {
		Character string `json:"c"`
	}
	if err := json.Unmarshal(line, &del); err != nil {
		return nil, &InvalidRecordError{Series: SeriesKanji, Reason: err.Error(), Line: string(line)}
	}
	runes := []rune(del.Character)
	if len(runes) != 1 {
		return nil, &InvalidRecordError{Series: SeriesKanji, Reason: "deletion missing c field", Line: string(line)}
	}
	return int(runes[0]), nil
}

// --- radicals ---

type radicalCodec struct{}

// RadicalCodec is the EntryCodec for the radicals series.
var RadicalCodec EntryCodec = radicalCodec{}

func (radicalCodec) Series() Series { return SeriesRadicals }

func (radicalCodec) IsDeletion(line []byte) (bool, error) { return peekDeleted(line) }

func (radicalCodec) DecodeEntry(line []byte) (Key, any, error) {
	var rec RadicalRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, nil, &InvalidRecordError{Series: SeriesRadicals, Reason: err.Error(), Line: string(line)}
	}
	if rec.ID == "" {
		return nil, nil, &InvalidRecordError{Series: SeriesRadicals, Reason: "missing id", Line: string(line)}
	}
	return rec.ID, rec, nil
}

func (radicalCodec) DecodeDeletion(line []byte) (Key, error) {
	var del struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(line, &del); err != nil {
		return nil, &InvalidRecordError{Series: SeriesRadicals, Reason: err.Error(), Line: string(line)}
	}
	if del.ID == "" {
		return nil, &InvalidRecordError{Series: SeriesRadicals, Reason: "deletion missing id field", Line: string(line)}
	}
	return del.ID, nil
}

// --- names ---

type nameCodec struct{}

// NameCodec is the EntryCodec for the names series.
var NameCodec EntryCodec = nameCodec{}

func (nameCodec) Series() Series { return SeriesNames }

func (nameCodec) IsDeletion(line []byte) (bool, error) { return peekDeleted(line) }

func (nameCodec) DecodeEntry(line []byte) (Key, any, error) {
	var rec NameRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, nil, &InvalidRecordError{Series: SeriesNames, Reason: err.Error(), Line: string(line)}
	}
	if rec.ID == 0 {
		return nil, nil, &InvalidRecordError{Series: SeriesNames, Reason: "missing id", Line: string(line)}
	}
	return rec.ID, rec, nil
}

func (nameCodec) DecodeDeletion(line []byte) (Key, error) {
	var del struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(line, &del); err != nil {
		return nil, &InvalidRecordError{Series: SeriesNames, Reason: err.Error(), Line: string(line)}
	}
	if del.ID == 0 {
		return nil, &InvalidRecordError{Series: SeriesNames, Reason: "deletion missing id field", Line: string(line)}
	}
	return del.ID, nil
}

// --- words ---

type wordCodec struct{}

// WordCodec is the EntryCodec for the optional word series.
var WordCodec EntryCodec = wordCodec{}

func (wordCodec) Series() Series { return SeriesWords }

func (wordCodec) IsDeletion(line []byte) (bool, error) { return peekDeleted(line) }

func (wordCodec) DecodeEntry(line []byte) (Key, any, error) {
	var rec WordRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, nil, &InvalidRecordError{Series: SeriesWords, Reason: err.Error(), Line: string(line)}
	}
	if rec.ID == 0 {
		return nil, nil, &InvalidRecordError{Series: SeriesWords, Reason: "missing id", Line: string(line)}
	}
	return rec.ID, rec, nil
}

func (wordCodec) DecodeDeletion(line []byte) (Key, error) {
	var del struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(line, &del); err != nil {
		return nil, &InvalidRecordError{Series: SeriesWords, Reason: err.Error(), Line: string(line)}
	}
	if del.ID == 0 {
		return nil, &InvalidRecordError{Series: SeriesWords, Reason: "deletion missing id field", Line: string(line)}
	}
	return del.ID, nil
}

// CodecFor returns the EntryCodec for a given series.
func CodecFor(s Series) (EntryCodec, error) {
	switch s {
	case SeriesKanji:
		return KanjiCodec, nil
	case SeriesRadicals:
		return RadicalCodec, nil
	case SeriesNames:
		return NameCodec, nil
	case SeriesWords:
		return WordCodec, nil
	default:
		return nil, &ErrUnknownSeries{Series: s}
	}
}
