package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/japaniel/jpdictsync/internal/errs"
	"github.com/japaniel/jpdictsync/internal/kana"
	"github.com/japaniel/jpdictsync/internal/model"
)

// DropAll is the sentinel drop value meaning "clear the whole table",
// spec.md §4.1's `drop == '*'`.
var DropAll = struct{}{}

// PutRecord pairs a decoded record with its key for a bulk update. Tokens
// is only meaningful for the words series: the pluggable ranker (see
// internal/ranker) tokenizes glosses ahead of time so the store stays
// agnostic of tokenization policy while still exposing a gloss-token
// index (spec.md §4.5's "pluggable ranker" contract).
type PutRecord struct {
	Key    model.Key
	Record any
	Tokens []string
}

// BulkUpdateRequest is the argument to BulkUpdateTable (spec.md §4.1).
type BulkUpdateRequest struct {
	Series     model.Series
	Put        []PutRecord
	Drop       any // nil, []model.Key, or DropAll
	Version    *model.Version
	OnProgress func(processed, total int)
}

const bulkBatchSize = 4000

// GetDataVersion returns the version record for series, or nil if absent.
// Lazily opens the store.
func (s *Store) GetDataVersion(series model.Series) (*model.Version, error) {
	db, err := s.Open()
	if err != nil {
		return nil, err
	}
	return getVersion(db, series)
}

func getVersion(q interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}, series model.Series) (*model.Version, error) {
	row := q.QueryRow(`SELECT major, minor, patch, snapshot, database_version, date_of_creation, lang FROM versions WHERE series_id = ?`, series.TableID())
	var v model.Version
	var snapshot sql.NullInt64
	var dbVersion sql.NullString
	if err := row.Scan(&v.Major, &v.Minor, &v.Patch, &snapshot, &dbVersion, &v.DateOfCreation, &v.Lang); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errs.New(errs.KindEngineUnavailable, "read version row", err)
	}
	v.Series = series
	if snapshot.Valid {
		n := int(snapshot.Int64)
		v.Snapshot = &n
	}
	if dbVersion.Valid {
		v.DatabaseVersion = dbVersion.String
	}
	return &v, nil
}

// ClearTable clears the whole series table and its indexes and removes
// the series' version record. Equivalent to
// bulkUpdateTable(series, put=∅, drop='*', version=absent).
func (s *Store) ClearTable(series model.Series) error {
	return s.BulkUpdateTable(BulkUpdateRequest{Series: series, Drop: DropAll})
}

func tableFor(series model.Series) (table string, idxTables []string, err error) {
	switch series {
	case model.SeriesKanji:
		return "kanji", []string{"kanji_reading_on", "kanji_reading_kun", "kanji_reading_name"}, nil
	case model.SeriesRadicals:
		return "radicals", nil, nil // secondary lookups are columns on radicals itself
	case model.SeriesNames:
		return "names", []string{"names_by_kanji", "names_by_kana", "names_by_hiragana"}, nil
	case model.SeriesWords:
		return "words", []string{"words_by_kanji", "words_by_hiragana", "words_by_gloss_token"}, nil
	default:
		return "", nil, &model.ErrUnknownSeries{Series: series}
	}
}

// BulkUpdateTable performs the atomic drop+put+version transaction
// described in spec.md §4.1. On any error the transaction is aborted and
// the pre-existing version record is left unchanged.
func (s *Store) BulkUpdateTable(req BulkUpdateRequest) error {
	table, idxTables, err := tableFor(req.Series)
	if err != nil {
		return err
	}

	tx, done, err := s.beginTx()
	if err != nil {
		return err
	}
	defer done()

	committed := false
	defer func() {
		if !committed {
			abort(tx)
		}
	}()

	dropAll := req.Drop == DropAll
	var dropIDs []model.Key
	if !dropAll {
		if ids, ok := req.Drop.([]model.Key); ok {
			dropIDs = ids
		}
	}

	total := len(req.Put)
	if dropAll {
		// counted as the whole table; unknown row count ahead of time, so
		// only Put contributes to the progress denominator when clearing.
	} else {
		total += len(dropIDs)
	}
	processed := 0

	if dropAll {
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
			return errs.New(errs.KindEngineUnavailable, "clear table", err)
		}
		for _, idx := range idxTables {
			if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s`, idx)); err != nil {
				return errs.New(errs.KindEngineUnavailable, "clear index "+idx, err)
			}
		}
	} else {
		for _, id := range dropIDs {
			if err := deleteRecord(tx, req.Series, table, idxTables, id); err != nil {
				return err
			}
			processed++
			maybeProgress(req.OnProgress, processed, total)
		}
	}

	for i := 0; i < len(req.Put); i += bulkBatchSize {
		end := i + bulkBatchSize
		if end > len(req.Put) {
			end = len(req.Put)
		}
		batch := req.Put[i:end]
		for _, p := range batch {
			if err := putRecord(tx, req.Series, table, idxTables, p); err != nil {
				return err
			}
			processed++
		}
		maybeProgress(req.OnProgress, processed, total)
	}

	if req.Version != nil {
		v := *req.Version
		var snapshot interface{}
		if v.Snapshot != nil {
			snapshot = *v.Snapshot
		}
		_, err = tx.Exec(`INSERT INTO versions (series_id, major, minor, patch, snapshot, database_version, date_of_creation, lang)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(series_id) DO UPDATE SET
				major=excluded.major, minor=excluded.minor, patch=excluded.patch,
				snapshot=excluded.snapshot, database_version=excluded.database_version,
				date_of_creation=excluded.date_of_creation, lang=excluded.lang`,
			req.Series.TableID(), v.Major, v.Minor, v.Patch, snapshot, v.DatabaseVersion, v.DateOfCreation, v.Lang)
	} else {
		_, err = tx.Exec(`DELETE FROM versions WHERE series_id = ?`, req.Series.TableID())
	}
	if err != nil {
		return errs.New(errs.KindEngineUnavailable, "write version row", err)
	}

	if err := tx.Commit(); err != nil {
		return classifyCommitErr(err)
	}
	committed = true
	return nil
}

func maybeProgress(cb func(processed, total int), processed, total int) {
	if cb != nil {
		cb(processed, total)
	}
}

func classifyCommitErr(err error) error {
	if isConstraintErr(err) {
		return errs.New(errs.KindConstraintViolation, "commit bulk update", err)
	}
	return errs.New(errs.KindEngineUnavailable, "commit bulk update", err)
}

func isConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return contains(msg, "UNIQUE") || contains(msg, "constraint") || contains(msg, "CONSTRAINT")
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func deleteRecord(tx *sql.Tx, series model.Series, table string, idxTables []string, id model.Key) error {
	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, keyColumn(series)), id); err != nil {
		return errs.New(errs.KindEngineUnavailable, "delete record", err)
	}
	switch series {
	case model.SeriesKanji:
		for _, idx := range idxTables {
			if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE code_point = ?`, idx), id); err != nil {
				return errs.New(errs.KindEngineUnavailable, "delete index row", err)
			}
		}
	case model.SeriesNames:
		for _, idx := range idxTables {
			if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE name_id = ?`, idx), id); err != nil {
				return errs.New(errs.KindEngineUnavailable, "delete index row", err)
			}
		}
	case model.SeriesWords:
		for _, idx := range idxTables {
			if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE word_id = ?`, idx), id); err != nil {
				return errs.New(errs.KindEngineUnavailable, "delete index row", err)
			}
		}
	}
	return nil
}

func keyColumn(series model.Series) string {
	switch series {
	case model.SeriesKanji:
		return "code_point"
	case model.SeriesRadicals:
		return "id"
	default:
		return "id"
	}
}

func putRecord(tx *sql.Tx, series model.Series, table string, idxTables []string, p PutRecord) error {
	switch series {
	case model.SeriesKanji:
		rec, ok := p.Record.(model.KanjiRecord)
		if !ok {
			return errs.New(errs.KindInvalidRecord, "kanji put record has wrong type", nil)
		}
		return putKanji(tx, rec)
	case model.SeriesRadicals:
		rec, ok := p.Record.(model.RadicalRecord)
		if !ok {
			return errs.New(errs.KindInvalidRecord, "radical put record has wrong type", nil)
		}
		return putRadical(tx, rec)
	case model.SeriesNames:
		rec, ok := p.Record.(model.NameRecord)
		if !ok {
			return errs.New(errs.KindInvalidRecord, "name put record has wrong type", nil)
		}
		return putName(tx, rec)
	case model.SeriesWords:
		rec, ok := p.Record.(model.WordRecord)
		if !ok {
			return errs.New(errs.KindInvalidRecord, "word put record has wrong type", nil)
		}
		return putWord(tx, rec, p.Tokens)
	default:
		return &model.ErrUnknownSeries{Series: series}
	}
}

func putKanji(tx *sql.Tx, rec model.KanjiRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errs.New(errs.KindInvalidRecord, "marshal kanji record", err)
	}
	if _, err := tx.Exec(`INSERT INTO kanji (code_point, character, data) VALUES (?, ?, ?)
		ON CONFLICT(code_point) DO UPDATE SET character=excluded.character, data=excluded.data`,
		rec.CodePoint, rec.Character, string(data)); err != nil {
		return errs.New(errs.KindEngineUnavailable, "upsert kanji", err)
	}
	if _, err := tx.Exec(`DELETE FROM kanji_reading_on WHERE code_point = ?`, rec.CodePoint); err != nil {
		return errs.New(errs.KindEngineUnavailable, "clear kanji_reading_on", err)
	}
	for _, r := range rec.Readings.On {
		if _, err := tx.Exec(`INSERT INTO kanji_reading_on (code_point, reading) VALUES (?, ?)`, rec.CodePoint, r); err != nil {
			return errs.New(errs.KindEngineUnavailable, "insert kanji_reading_on", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM kanji_reading_kun WHERE code_point = ?`, rec.CodePoint); err != nil {
		return errs.New(errs.KindEngineUnavailable, "clear kanji_reading_kun", err)
	}
	for _, r := range rec.Readings.Kun {
		if _, err := tx.Exec(`INSERT INTO kanji_reading_kun (code_point, reading) VALUES (?, ?)`, rec.CodePoint, r); err != nil {
			return errs.New(errs.KindEngineUnavailable, "insert kanji_reading_kun", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM kanji_reading_name WHERE code_point = ?`, rec.CodePoint); err != nil {
		return errs.New(errs.KindEngineUnavailable, "clear kanji_reading_name", err)
	}
	for _, r := range rec.Readings.Name {
		if _, err := tx.Exec(`INSERT INTO kanji_reading_name (code_point, reading) VALUES (?, ?)`, rec.CodePoint, r); err != nil {
			return errs.New(errs.KindEngineUnavailable, "insert kanji_reading_name", err)
		}
	}
	return nil
}

func putRadical(tx *sql.Tx, rec model.RadicalRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errs.New(errs.KindInvalidRecord, "marshal radical record", err)
	}
	if _, err := tx.Exec(`INSERT INTO radicals (id, number, base, kanji, data) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET number=excluded.number, base=excluded.base, kanji=excluded.kanji, data=excluded.data`,
		rec.ID, rec.Number, rec.Base, rec.Kanji, string(data)); err != nil {
		return errs.New(errs.KindEngineUnavailable, "upsert radical", err)
	}
	return nil
}

func putName(tx *sql.Tx, rec model.NameRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errs.New(errs.KindInvalidRecord, "marshal name record", err)
	}
	if _, err := tx.Exec(`INSERT INTO names (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data=excluded.data`, rec.ID, string(data)); err != nil {
		return errs.New(errs.KindEngineUnavailable, "upsert name", err)
	}
	if _, err := tx.Exec(`DELETE FROM names_by_kanji WHERE name_id = ?`, rec.ID); err != nil {
		return errs.New(errs.KindEngineUnavailable, "clear names_by_kanji", err)
	}
	for i, k := range rec.Kanji {
		if _, err := tx.Exec(`INSERT INTO names_by_kanji (kanji, name_id, seq) VALUES (?, ?, ?)`, k, rec.ID, i); err != nil {
			return errs.New(errs.KindEngineUnavailable, "insert names_by_kanji", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM names_by_kana WHERE name_id = ?`, rec.ID); err != nil {
		return errs.New(errs.KindEngineUnavailable, "clear names_by_kana", err)
	}
	if _, err := tx.Exec(`DELETE FROM names_by_hiragana WHERE name_id = ?`, rec.ID); err != nil {
		return errs.New(errs.KindEngineUnavailable, "clear names_by_hiragana", err)
	}
	seen := map[string]bool{}
	for i, r := range rec.Kana {
		if _, err := tx.Exec(`INSERT INTO names_by_kana (kana, name_id, seq) VALUES (?, ?, ?)`, r, rec.ID, i); err != nil {
			return errs.New(errs.KindEngineUnavailable, "insert names_by_kana", err)
		}
		// Derived hiragana index: only for keys that contain hiragana after
		// normalization, deduplicated (spec.md §3 key invariants).
		if kana.HasHiragana(r) {
			h := kana.ToHiragana(r)
			if !seen[h] {
				seen[h] = true
				if _, err := tx.Exec(`INSERT INTO names_by_hiragana (hiragana, name_id, seq) VALUES (?, ?, ?)`, h, rec.ID, i); err != nil {
					return errs.New(errs.KindEngineUnavailable, "insert names_by_hiragana", err)
				}
			}
		}
	}
	return nil
}

func putWord(tx *sql.Tx, rec model.WordRecord, tokens []string) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errs.New(errs.KindInvalidRecord, "marshal word record", err)
	}
	if _, err := tx.Exec(`INSERT INTO words (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data=excluded.data`, rec.ID, string(data)); err != nil {
		return errs.New(errs.KindEngineUnavailable, "upsert word", err)
	}
	if _, err := tx.Exec(`DELETE FROM words_by_kanji WHERE word_id = ?`, rec.ID); err != nil {
		return errs.New(errs.KindEngineUnavailable, "clear words_by_kanji", err)
	}
	for i, k := range rec.Kanji {
		if _, err := tx.Exec(`INSERT INTO words_by_kanji (kanji, word_id, seq) VALUES (?, ?, ?)`, k, rec.ID, i); err != nil {
			return errs.New(errs.KindEngineUnavailable, "insert words_by_kanji", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM words_by_hiragana WHERE word_id = ?`, rec.ID); err != nil {
		return errs.New(errs.KindEngineUnavailable, "clear words_by_hiragana", err)
	}
	seen := map[string]bool{}
	for i, r := range rec.Kana {
		if kana.HasHiragana(r) {
			h := kana.ToHiragana(r)
			if !seen[h] {
				seen[h] = true
				if _, err := tx.Exec(`INSERT INTO words_by_hiragana (hiragana, word_id, seq) VALUES (?, ?, ?)`, h, rec.ID, i); err != nil {
					return errs.New(errs.KindEngineUnavailable, "insert words_by_hiragana", err)
				}
			}
		}
	}
	if _, err := tx.Exec(`DELETE FROM words_by_gloss_token WHERE word_id = ?`, rec.ID); err != nil {
		return errs.New(errs.KindEngineUnavailable, "clear words_by_gloss_token", err)
	}
	seenTok := map[string]bool{}
	for i, t := range tokens {
		if t == "" || seenTok[t] {
			continue
		}
		seenTok[t] = true
		if _, err := tx.Exec(`INSERT INTO words_by_gloss_token (token, word_id, seq) VALUES (?, ?, ?)`, t, rec.ID, i); err != nil {
			return errs.New(errs.KindEngineUnavailable, "insert words_by_gloss_token", err)
		}
	}
	return nil
}
