// Package ranker implements the pluggable gloss tokenizer spec.md §4.5
// leaves as an external contract for the optional words series: the same
// tokenization must run at apply time (building the gloss-token index)
// and at query time (tokenizing the caller's search text), so both the
// Applier and the Facade are handed the same Tokenize function through
// this package's Ranker type.
//
// English glosses are stemmed with the Snowball algorithm, grounded on
// deidaraiorek-deisearch's Stemmer (indexer/internal/textprocessor/stemmer.go).
// Japanese text is run through Kagome's IPA tokenizer and reduced to base
// forms, grounded on the teacher's own Analyzer
// (pkg/readerer/readerer.go).
package ranker

import (
	"strings"
	"unicode"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
	"github.com/kljensen/snowball"
)

// Ranker tokenizes gloss/query text into a normalized token set. It
// satisfies both internal/applier.GlossTokenizer and
// internal/sync.GlossRanker.
type Ranker struct {
	jp *tokenizer.Tokenizer
}

// New constructs a Ranker with its Japanese tokenizer initialized. The
// English path needs no setup.
func New() (*Ranker, error) {
	t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, err
	}
	return &Ranker{jp: t}, nil
}

// Tokenize normalizes each line of text into a flat, deduplicated token
// list: Japanese runs are segmented and reduced to dictionary base forms,
// everything else is split on non-letter boundaries, lowercased, and
// English-stemmed.
func (r *Ranker) Tokenize(text []string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(tok string) {
		if tok == "" || seen[tok] {
			return
		}
		seen[tok] = true
		out = append(out, tok)
	}

	for _, line := range text {
		for _, run := range splitScriptRuns(line) {
			if run.japanese {
				for _, tok := range r.tokenizeJapanese(run.text) {
					add(tok)
				}
				continue
			}
			for _, word := range splitWords(run.text) {
				add(stemEnglish(word))
			}
		}
	}
	return out
}

func (r *Ranker) tokenizeJapanese(s string) []string {
	if r.jp == nil {
		return nil
	}
	var out []string
	for _, tok := range r.jp.Tokenize(s) {
		if tok.Class == tokenizer.DUMMY {
			continue
		}
		features := tok.Features()
		base := tok.Surface
		if len(features) > 6 && features[6] != "*" {
			base = features[6]
		}
		base = strings.TrimSpace(base)
		if base != "" {
			out = append(out, base)
		}
	}
	return out
}

func stemEnglish(word string) string {
	lower := strings.ToLower(word)
	stemmed, err := snowball.Stem(lower, "english", true)
	if err != nil {
		return lower
	}
	return stemmed
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

type scriptRun struct {
	text     string
	japanese bool
}

// splitScriptRuns partitions s into runs of CJK/kana text and runs of
// everything else, so each run can be handed to the tokenizer that
// understands its script.
func splitScriptRuns(s string) []scriptRun {
	var runs []scriptRun
	var cur []rune
	curJP := false
	flush := func() {
		if len(cur) > 0 {
			runs = append(runs, scriptRun{text: string(cur), japanese: curJP})
			cur = nil
		}
	}
	for _, r := range s {
		jp := isJapaneseScript(r)
		if len(cur) > 0 && jp != curJP {
			flush()
		}
		curJP = jp
		cur = append(cur, r)
	}
	flush()
	return runs
}

func isJapaneseScript(r rune) bool {
	switch {
	case r >= 0x3040 && r <= 0x30FF: // hiragana + katakana
		return true
	case r >= 0x4E00 && r <= 0x9FFF: // CJK unified ideographs
		return true
	default:
		return false
	}
}
