package store

import (
	"database/sql"
	"encoding/json"

	"github.com/japaniel/jpdictsync/internal/errs"
	"github.com/japaniel/jpdictsync/internal/kana"
	"github.com/japaniel/jpdictsync/internal/model"
)

// GetKanji performs transactional point-lookups for the given code points,
// returning records in input order and skipping any that are missing
// (spec.md §4.1).
func (s *Store) GetKanji(codePoints []int) ([]model.KanjiRecord, error) {
	db, err := s.Open()
	if err != nil {
		return nil, err
	}
	tx, err := db.Begin()
	if err != nil {
		return nil, errs.New(errs.KindEngineUnavailable, "begin read tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`SELECT data FROM kanji WHERE code_point = ?`)
	if err != nil {
		return nil, errs.New(errs.KindEngineUnavailable, "prepare kanji lookup", err)
	}
	defer stmt.Close()

	var out []model.KanjiRecord
	for _, cp := range codePoints {
		var data string
		err := stmt.QueryRow(cp).Scan(&data)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, errs.New(errs.KindEngineUnavailable, "read kanji row", err)
		}
		var rec model.KanjiRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, errs.New(errs.KindEngineUnavailable, "decode kanji row", err)
		}
		rec.CodePoint = cp
		out = append(out, rec)
	}
	return out, nil
}

// GetRadical returns a single radical record by id, or nil if absent.
func (s *Store) GetRadical(id string) (*model.RadicalRecord, error) {
	db, err := s.Open()
	if err != nil {
		return nil, err
	}
	var data string
	err = db.QueryRow(`SELECT data FROM radicals WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.KindEngineUnavailable, "read radical row", err)
	}
	var rec model.RadicalRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, errs.New(errs.KindEngineUnavailable, "decode radical row", err)
	}
	return &rec, nil
}

// AllRadicals returns every radical record ordered by id, the shape the
// facade's cached radical map (spec.md §4.5) is built from.
func (s *Store) AllRadicals() ([]model.RadicalRecord, error) {
	db, err := s.Open()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT data FROM radicals ORDER BY id`)
	if err != nil {
		return nil, errs.New(errs.KindEngineUnavailable, "scan radicals", err)
	}
	defer rows.Close()
	var out []model.RadicalRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errs.New(errs.KindEngineUnavailable, "read radical row", err)
		}
		var rec model.RadicalRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, errs.New(errs.KindEngineUnavailable, "decode radical row", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// nameMatch is a candidate name-series result carrying enough to rank it.
type nameMatch struct {
	id       int
	rec      model.NameRecord
	rank     int // 0 = exact original match, 1 = kana-equivalence match
	insOrder int
}

// GetNames scans the kanji-spelling and reading indexes with an exact-match
// key and returns the union with preserved insertion order: kanji matches
// first, then new reading matches. If query normalizes to hiragana
// differently than itself, the hiragana index is also queried and its
// matches are ranked below exact matches (spec.md §4.1, §4.5).
func (s *Store) GetNames(query string) ([]model.NameRecord, error) {
	db, err := s.Open()
	if err != nil {
		return nil, err
	}

	seen := map[int]bool{}
	var ordered []nameMatch
	order := 0

	addFrom := func(sqlQuery string, key string, rank int) error {
		rows, err := db.Query(sqlQuery, key)
		if err != nil {
			return errs.New(errs.KindEngineUnavailable, "scan name index", err)
		}
		defer rows.Close()
		var ids []int
		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err != nil {
				return errs.New(errs.KindEngineUnavailable, "read name index row", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			rec, err := s.getNameByID(db, id)
			if err != nil {
				return err
			}
			if rec == nil {
				continue
			}
			ordered = append(ordered, nameMatch{id: id, rec: *rec, rank: rank, insOrder: order})
			order++
		}
		return nil
	}

	if err := addFrom(`SELECT name_id FROM names_by_kanji WHERE kanji = ? ORDER BY seq`, query, 0); err != nil {
		return nil, err
	}
	if err := addFrom(`SELECT name_id FROM names_by_kana WHERE kana = ? ORDER BY seq`, query, 0); err != nil {
		return nil, err
	}

	normalized := kana.ToHiragana(query)
	if normalized != query {
		if err := addFrom(`SELECT name_id FROM names_by_hiragana WHERE hiragana = ? ORDER BY seq`, normalized, 1); err != nil {
			return nil, err
		}
	}

	// Stable sort by rank, preserving insertion order within a rank
	// (spec.md §8: "getNames is idempotent and order-stable").
	out := make([]model.NameRecord, len(ordered))
	idxByRank := map[int][]nameMatch{}
	for _, m := range ordered {
		idxByRank[m.rank] = append(idxByRank[m.rank], m)
	}
	i := 0
	for rank := 0; rank <= 1; rank++ {
		for _, m := range idxByRank[rank] {
			out[i] = m.rec
			i++
		}
	}
	return out, nil
}

func (s *Store) getNameByID(db *sql.DB, id int) (*model.NameRecord, error) {
	var data string
	err := db.QueryRow(`SELECT data FROM names WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.KindEngineUnavailable, "read name row", err)
	}
	var rec model.NameRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, errs.New(errs.KindEngineUnavailable, "decode name row", err)
	}
	return &rec, nil
}

// GetWordByID returns a single word record by id, or nil if absent.
func (s *Store) GetWordByID(id int) (*model.WordRecord, error) {
	db, err := s.Open()
	if err != nil {
		return nil, err
	}
	var data string
	err = db.QueryRow(`SELECT data FROM words WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.KindEngineUnavailable, "read word row", err)
	}
	var rec model.WordRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, errs.New(errs.KindEngineUnavailable, "decode word row", err)
	}
	return &rec, nil
}

// GetWords mirrors GetNames for the optional words series, additionally
// consulting the gloss-token index built by the pluggable ranker.
func (s *Store) GetWords(query string, glossTokens []string) ([]model.WordRecord, error) {
	db, err := s.Open()
	if err != nil {
		return nil, err
	}
	seen := map[int]bool{}
	var out []model.WordRecord

	collect := func(sqlQuery string, key string) error {
		rows, err := db.Query(sqlQuery, key)
		if err != nil {
			return errs.New(errs.KindEngineUnavailable, "scan word index", err)
		}
		defer rows.Close()
		var ids []int
		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err != nil {
				return errs.New(errs.KindEngineUnavailable, "read word index row", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			rec, err := s.GetWordByID(id)
			if err != nil || rec == nil {
				continue
			}
			out = append(out, *rec)
		}
		return nil
	}

	if err := collect(`SELECT word_id FROM words_by_kanji WHERE kanji = ? ORDER BY seq`, query); err != nil {
		return nil, err
	}
	normalized := kana.ToHiragana(query)
	if err := collect(`SELECT word_id FROM words_by_hiragana WHERE hiragana = ? ORDER BY seq`, normalized); err != nil {
		return nil, err
	}
	for _, tok := range glossTokens {
		if err := collect(`SELECT word_id FROM words_by_gloss_token WHERE token = ? ORDER BY seq`, tok); err != nil {
			return nil, err
		}
	}
	return out, nil
}
