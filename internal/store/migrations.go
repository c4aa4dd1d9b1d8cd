package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/japaniel/jpdictsync/internal/errs"
)

// migrationStep is one additive schema change. Steps are applied in order
// starting after the schema's current stored version; opening at a lower
// schema version than stored fails cleanly (spec.md §4.1).
type migrationStep struct {
	version int
	stmts   []string
}

var migrationSteps = []migrationStep{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS schema_meta (id INTEGER PRIMARY KEY CHECK (id = 1), version INTEGER NOT NULL)`,

			`CREATE TABLE IF NOT EXISTS versions (
				series_id INTEGER PRIMARY KEY,
				major INTEGER NOT NULL,
				minor INTEGER NOT NULL,
				patch INTEGER NOT NULL,
				snapshot INTEGER,
				database_version TEXT,
				date_of_creation TEXT NOT NULL,
				lang TEXT NOT NULL
			)`,

			`CREATE TABLE IF NOT EXISTS kanji (
				code_point INTEGER PRIMARY KEY,
				character TEXT NOT NULL,
				data TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS kanji_reading_on (code_point INTEGER NOT NULL, reading TEXT NOT NULL)`,
			`CREATE INDEX IF NOT EXISTS idx_kanji_reading_on ON kanji_reading_on(reading)`,
			`CREATE TABLE IF NOT EXISTS kanji_reading_kun (code_point INTEGER NOT NULL, reading TEXT NOT NULL)`,
			`CREATE INDEX IF NOT EXISTS idx_kanji_reading_kun ON kanji_reading_kun(reading)`,
			`CREATE TABLE IF NOT EXISTS kanji_reading_name (code_point INTEGER NOT NULL, reading TEXT NOT NULL)`,
			`CREATE INDEX IF NOT EXISTS idx_kanji_reading_name ON kanji_reading_name(reading)`,

			`CREATE TABLE IF NOT EXISTS radicals (
				id TEXT PRIMARY KEY,
				number INTEGER NOT NULL,
				base TEXT,
				kanji TEXT,
				data TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_radicals_number ON radicals(number)`,
			`CREATE INDEX IF NOT EXISTS idx_radicals_base ON radicals(base)`,
			`CREATE INDEX IF NOT EXISTS idx_radicals_kanji ON radicals(kanji)`,

			`CREATE TABLE IF NOT EXISTS names (
				id INTEGER PRIMARY KEY,
				data TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS names_by_kanji (kanji TEXT NOT NULL, name_id INTEGER NOT NULL, seq INTEGER NOT NULL)`,
			`CREATE INDEX IF NOT EXISTS idx_names_by_kanji ON names_by_kanji(kanji)`,
			`CREATE TABLE IF NOT EXISTS names_by_kana (kana TEXT NOT NULL, name_id INTEGER NOT NULL, seq INTEGER NOT NULL)`,
			`CREATE INDEX IF NOT EXISTS idx_names_by_kana ON names_by_kana(kana)`,
			`CREATE TABLE IF NOT EXISTS names_by_hiragana (hiragana TEXT NOT NULL, name_id INTEGER NOT NULL, seq INTEGER NOT NULL)`,
			`CREATE INDEX IF NOT EXISTS idx_names_by_hiragana ON names_by_hiragana(hiragana)`,

			`CREATE TABLE IF NOT EXISTS words (
				id INTEGER PRIMARY KEY,
				data TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS words_by_kanji (kanji TEXT NOT NULL, word_id INTEGER NOT NULL, seq INTEGER NOT NULL)`,
			`CREATE INDEX IF NOT EXISTS idx_words_by_kanji ON words_by_kanji(kanji)`,
			`CREATE TABLE IF NOT EXISTS words_by_hiragana (hiragana TEXT NOT NULL, word_id INTEGER NOT NULL, seq INTEGER NOT NULL)`,
			`CREATE INDEX IF NOT EXISTS idx_words_by_hiragana ON words_by_hiragana(hiragana)`,
			`CREATE TABLE IF NOT EXISTS words_by_gloss_token (token TEXT NOT NULL, word_id INTEGER NOT NULL, seq INTEGER NOT NULL)`,
			`CREATE INDEX IF NOT EXISTS idx_words_by_gloss_token ON words_by_gloss_token(token)`,
		},
	},
}

// migrate applies additive migration steps up to targetVersion. Opening at
// a schema version lower than the one already stored fails cleanly.
func migrate(db *sql.DB, targetVersion int) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_meta (id INTEGER PRIMARY KEY CHECK (id = 1), version INTEGER NOT NULL)`); err != nil {
		return errs.New(errs.KindEngineUnavailable, "create schema_meta", err)
	}

	var current int
	err := db.QueryRow(`SELECT version FROM schema_meta WHERE id = 1`).Scan(&current)
	if err == sql.ErrNoRows {
		current = 0
	} else if err != nil {
		return errs.New(errs.KindEngineUnavailable, "read schema version", err)
	}

	if current > targetVersion {
		return errs.New(errs.KindEngineUnavailable,
			fmt.Sprintf("stored schema version %d is newer than requested %d", current, targetVersion), nil)
	}

	for _, step := range migrationSteps {
		if step.version <= current || step.version > targetVersion {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return errs.New(errs.KindEngineUnavailable, "begin migration", err)
		}
		for _, stmt := range step.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return errs.New(errs.KindEngineUnavailable, fmt.Sprintf("migration step %d: %s", step.version, strings.TrimSpace(stmt)), err)
			}
		}
		if _, err := tx.Exec(`INSERT INTO schema_meta (id, version) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET version = excluded.version`, step.version); err != nil {
			tx.Rollback()
			return errs.New(errs.KindEngineUnavailable, "record schema version", err)
		}
		if err := tx.Commit(); err != nil {
			return errs.New(errs.KindEngineUnavailable, "commit migration", err)
		}
		current = step.version
	}
	return nil
}
