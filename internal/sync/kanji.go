package sync

import (
	"fmt"
	"sort"

	"github.com/japaniel/jpdictsync/internal/kana"
	"github.com/japaniel/jpdictsync/internal/model"
)

// ComponentEntry is one resolved component of a kanji's component string
// (spec.md §4.5 step 4): a radical, an in-store kanji, or a katakana
// fallback.
type ComponentEntry struct {
	Char     string
	Kanji    string   // k: present only for radical components with a base k glyph
	Readings []string // na: component name/reading forms
	Meanings []string // m
	MeanLang string   // language the meanings were resolved for
}

// ResolvedRadical is the rad block populated for a KanjiResult (spec.md
// §4.5 step 3).
type ResolvedRadical struct {
	Number int
	Base   string // set iff a variant was chosen
	ID     string
}

// RelatedKanji is one entry of a kanji's expanded `cf` list (spec.md §4.5
// step 5).
type RelatedKanji struct {
	Char     string
	Readings model.KanjiReadings
	Meanings []string
	MeanLang string
	Misc     map[string]string
}

// KanjiResult is one fully resolved getKanji entry.
type KanjiResult struct {
	Char       string
	Radical    ResolvedRadical
	Components []ComponentEntry
	Related    []RelatedKanji
}

// pad3 zero-pads a radical number to the three-digit base id form used by
// the radicals series (e.g. 57 -> "057").
func pad3(n int) string {
	return fmt.Sprintf("%03d", n)
}

// buildCharToRadicalID derives the char -> radical id map from the full
// radicals table (spec.md §4.5): base radicals register both their base
// and kanji glyphs under their own id; variant radicals register any
// glyph that differs from their base's. "130-2" is excluded outright; it
// is instead matched through the radical-74 pop-variant special case at
// lookup time (getKanji step 4).
func buildCharToRadicalID(all []model.RadicalRecord) map[string]string {
	sorted := make([]model.RadicalRecord, len(all))
	copy(sorted, all)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byID := make(map[string]model.RadicalRecord, len(sorted))
	for _, r := range sorted {
		byID[r.ID] = r
	}

	c2r := make(map[string]string)
	for _, r := range sorted {
		if !r.IsVariant() {
			if r.Base != "" {
				c2r[r.Base] = r.ID
			}
			if r.Kanji != "" {
				c2r[r.Kanji] = r.ID
			}
			continue
		}
		if r.ID == "130-2" {
			continue
		}
		base, ok := byID[baseIDOf(r.ID)]
		if !ok {
			continue
		}
		if r.Base != "" && r.Base != base.Base {
			c2r[r.Base] = r.ID
		}
		if r.Kanji != "" && r.Kanji != base.Kanji {
			c2r[r.Kanji] = r.ID
		}
	}
	return c2r
}

// baseIDOf strips a variant suffix: "130-2" -> "130".
func baseIDOf(variantID string) string {
	for i, c := range variantID {
		if c == '-' {
			return variantID[:i]
		}
	}
	return variantID
}

// resolveRecordRadical implements spec.md §4.5 step 3: prefer the variant
// in rec.Radical.Variants whose radical number matches rec.Radical.Number,
// else fall back to the zero-padded base id.
func resolveRecordRadical(rec model.KanjiRecord, byID map[string]model.RadicalRecord) ResolvedRadical {
	for _, vid := range rec.Radical.Variants {
		if v, ok := byID[vid]; ok && v.Number == rec.Radical.Number {
			return ResolvedRadical{Number: rec.Radical.Number, ID: vid, Base: pad3(rec.Radical.Number)}
		}
	}
	baseID := pad3(rec.Radical.Number)
	return ResolvedRadical{Number: rec.Radical.Number, ID: baseID}
}

// popVariant finds, in vars, the variant id matching radicalID's radical
// number, applying the radical-74/"130-2" special case
// (spec.md §4.5 step 4): when searching for radical 74, "130-2" is an
// acceptable match even though it is absent from vars and from
// charToRadicalId. vars is not modified, so one variant id can match more
// than one component of the same kanji.
func popVariant(vars []string, radicalID string, byID map[string]model.RadicalRecord) (model.RadicalRecord, bool) {
	want, ok := byID[radicalID]
	if !ok {
		return model.RadicalRecord{}, false
	}
	for _, vid := range vars {
		if v, ok := byID[vid]; ok && v.Number == want.Number {
			return v, true
		}
	}
	if want.Number == 74 {
		if v, ok := byID["130-2"]; ok {
			return v, true
		}
	}
	return want, true
}

// resolveComponent implements spec.md §4.5 step 4 for a single component
// character of a kanji's component string. The returned warning is
// non-empty exactly when resolution fell back to a degraded path or
// failed outright; callers surface it to the caller of GetKanji rather
// than a log line, per spec.md §1's exclusion of warning channels from
// the hard core.
func (f *Facade) resolveComponent(ch string, rec model.KanjiRecord, lang string, byID map[string]model.RadicalRecord, c2r map[string]string) (ComponentEntry, bool, string) {
	if radID, ok := c2r[ch]; ok {
		base, ok := byID[radID]
		if !ok {
			return ComponentEntry{}, false, ""
		}
		resolved, _ := popVariant(rec.Radical.Variants, radID, byID)
		entry := ComponentEntry{
			Char:     ch,
			Readings: resolved.Readings,
			Meanings: resolved.Meanings,
			MeanLang: lang,
		}
		if base.Kanji != "" {
			entry.Kanji = base.Kanji
		}
		return entry, true, ""
	}

	runes := []rune(ch)
	if len(runes) == 1 {
		if inStore, err := f.Store.GetKanji([]int{int(runes[0])}); err == nil && len(inStore) == 1 {
			k := inStore[0]
			readings := stripKunOnMarkers(append(append([]string{}, k.Readings.Kun...), k.Readings.On...))
			return ComponentEntry{
				Char:     ch,
				Readings: readings,
				Meanings: k.Meanings[lang],
				MeanLang: lang,
			}, true, ""
		}

		if kana.IsKatakana(runes[0]) {
			roman, known := kanaRoman(runes[0])
			if !known {
				return ComponentEntry{}, false, fmt.Sprintf("no roman spelling for katakana component %q", ch)
			}
			meaning, ok := katakanaMeaning(lang, roman)
			warning := ""
			if !ok {
				warning = fmt.Sprintf("unsupported language %q for katakana component %q, falling back to roman spelling", lang, ch)
			}
			return ComponentEntry{
				Char:     ch,
				Readings: []string{ch},
				Meanings: []string{meaning},
				MeanLang: lang,
			}, true, warning
		}
	}

	return ComponentEntry{}, false, fmt.Sprintf("could not resolve component %q of kanji %q", ch, rec.Character)
}

// stripKunOnMarkers removes the "." okurigana-boundary markers spec.md
// §4.5 step 4 names from a kun/on reading list.
func stripKunOnMarkers(readings []string) []string {
	out := make([]string, 0, len(readings))
	for _, r := range readings {
		clean := make([]rune, 0, len(r))
		for _, c := range r {
			if c != '.' {
				clean = append(clean, c)
			}
		}
		out = append(out, string(clean))
	}
	return out
}

// GetKanji resolves chars into fully cross-referenced KanjiResults
// (spec.md §4.5's getKanji algorithm). The returned warnings cover any
// component that fell back to a degraded resolution path or could not be
// resolved at all; spec.md §1 excludes log-line warning channels from
// the hard core, so callers observe these directly instead of through a
// logger.
func (f *Facade) GetKanji(chars []string, lang string) ([]KanjiResult, []string, error) {
	codePoints := make([]int, 0, len(chars))
	for _, c := range chars {
		r := []rune(c)
		if len(r) != 1 {
			continue
		}
		codePoints = append(codePoints, int(r[0]))
	}

	records, err := f.Store.GetKanji(codePoints)
	if err != nil {
		return nil, nil, err
	}

	byID, c2r, err := f.radicalMaps()
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	out := make([]KanjiResult, 0, len(records))
	for _, rec := range records {
		res := KanjiResult{
			Char:    rec.Character,
			Radical: resolveRecordRadical(rec, byID),
		}

		for _, ch := range componentChars(rec.Component) {
			entry, ok, warning := f.resolveComponent(ch, rec, lang, byID, c2r)
			if warning != "" {
				warnings = append(warnings, warning)
			}
			if ok {
				res.Components = append(res.Components, entry)
			}
		}

		for _, cfID := range rec.Related {
			related, err := f.Store.GetKanji([]int{cfID})
			if err != nil {
				return nil, nil, err
			}
			if len(related) == 0 {
				continue
			}
			k := related[0]
			res.Related = append(res.Related, RelatedKanji{
				Char:     k.Character,
				Readings: k.Readings,
				Meanings: k.Meanings[lang],
				MeanLang: lang,
				Misc:     k.Misc,
			})
		}

		out = append(out, res)
	}
	return out, warnings, nil
}

func componentChars(s string) []string {
	runes := []rune(s)
	out := make([]string, 0, len(runes))
	for _, r := range runes {
		out = append(out, string(r))
	}
	return out
}

func kanaRoman(r rune) (string, bool) {
	return kana.RomanSpelling(r)
}

func katakanaMeaning(lang, roman string) (string, bool) {
	return kana.KatakanaMeaning(lang, roman)
}
