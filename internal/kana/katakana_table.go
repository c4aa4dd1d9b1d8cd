package kana

import "fmt"

// katakanaRoman maps every katakana rune in the component-fallback range
// U+30A1..U+30FA (spec.md §4.5) to its roman spelling.
var katakanaRoman = map[rune]string{
	0x30A1: "a", 0x30A2: "a", 0x30A3: "i", 0x30A4: "i", 0x30A5: "u",
	0x30A6: "u", 0x30A7: "e", 0x30A8: "e", 0x30A9: "o", 0x30AA: "o",
	0x30AB: "ka", 0x30AC: "ga", 0x30AD: "ki", 0x30AE: "gi", 0x30AF: "ku",
	0x30B0: "gu", 0x30B1: "ke", 0x30B2: "ge", 0x30B3: "ko", 0x30B4: "go",
	0x30B5: "sa", 0x30B6: "za", 0x30B7: "shi", 0x30B8: "ji", 0x30B9: "su",
	0x30BA: "zu", 0x30BB: "se", 0x30BC: "ze", 0x30BD: "so", 0x30BE: "zo",
	0x30BF: "ta", 0x30C0: "da", 0x30C1: "chi", 0x30C2: "di", 0x30C3: "tsu",
	0x30C4: "tsu", 0x30C5: "zu", 0x30C6: "te", 0x30C7: "de", 0x30C8: "to",
	0x30C9: "do", 0x30CA: "na", 0x30CB: "ni", 0x30CC: "nu", 0x30CD: "ne",
	0x30CE: "no", 0x30CF: "ha", 0x30D0: "ba", 0x30D1: "pa", 0x30D2: "hi",
	0x30D3: "bi", 0x30D4: "pi", 0x30D5: "fu", 0x30D6: "bu", 0x30D7: "pu",
	0x30D8: "he", 0x30D9: "be", 0x30DA: "pe", 0x30DB: "ho", 0x30DC: "bo",
	0x30DD: "po", 0x30DE: "ma", 0x30DF: "mi", 0x30E0: "mu", 0x30E1: "me",
	0x30E2: "mo", 0x30E3: "ya", 0x30E4: "ya", 0x30E5: "yu", 0x30E6: "yu",
	0x30E7: "yo", 0x30E8: "yo", 0x30E9: "ra", 0x30EA: "ri", 0x30EB: "ru",
	0x30EC: "re", 0x30ED: "ro", 0x30EE: "wa", 0x30EF: "wa", 0x30F0: "wi",
	0x30F1: "we", 0x30F2: "wo", 0x30F3: "n", 0x30F4: "vu", 0x30F5: "ka",
	0x30F6: "ke", 0x30F7: "va", 0x30F8: "vi", 0x30F9: "ve", 0x30FA: "vo",
}

// RomanSpelling returns the roman spelling for a katakana rune in the
// U+30A1..U+30FA range, and false if r falls outside that range.
func RomanSpelling(r rune) (string, bool) {
	s, ok := katakanaRoman[r]
	return s, ok
}

// katakanaTemplates gives the localized "katakana X" phrasing for the
// languages spec.md §4.5 names explicitly. Any language not in this map
// falls back to the bare roman spelling, with the caller expected to emit
// a warning (see internal/sync/kanji.go).
var katakanaTemplates = map[string]string{
	"en": "katakana %s",
	"es": "katakana %s",
	"pt": "katakana %s",
	"fr": "katakana %s",
	"ja": "片仮名の%s",
}

// KatakanaMeaning formats the localized meaning string for a katakana
// component fallback. ok is false when lang is not one of {en,es,pt,fr,ja};
// callers must warn and use the bare roman spelling in that case.
func KatakanaMeaning(lang, roman string) (meaning string, ok bool) {
	tmpl, ok := katakanaTemplates[lang]
	if !ok {
		return roman, false
	}
	return fmt.Sprintf(tmpl, roman), true
}
