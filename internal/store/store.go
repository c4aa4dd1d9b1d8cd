// Package store implements the durable, transactional persistence layer
// described in spec.md §4.1: multi-series keyed tables with secondary
// indexes, atomic bulk-update semantics, schema migration, and
// data-version bookkeeping. It is backed by github.com/mattn/go-sqlite3,
// following the teacher's (japaniel/readerer pkg/db) preference for raw
// database/sql over an ORM.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/japaniel/jpdictsync/internal/errs"
)

// State is one of the store's lifecycle states (spec.md §4.1).
type State int

const (
	StateIdle State = iota
	StateOpening
	StateOpen
	StateError
	StateDeleting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	case StateDeleting:
		return "deleting"
	default:
		return "unknown"
	}
}

// SchemaVersion is the current schema version this build of the store
// knows how to migrate to. Bump this and add a step to migrationSteps
// when adding tables or indexes; migrations are additive-only per
// spec.md §4.1.
const SchemaVersion = 1

// Store is the shared handle to the embedded database. A single Store may
// be opened concurrently by multiple callers; open() is idempotent and
// shared, matching spec.md §4.1's "a single open is shared" contract.
type Store struct {
	Path   string
	Logger *log.Logger

	mu       sync.Mutex
	db       *sql.DB
	state    State
	openErr  error
	openWait chan struct{}
	delWait  chan struct{}
	inFlight sync.WaitGroup
}

// New creates a Store bound to path (use ":memory:" for an ephemeral
// store, matching the teacher's test convention).
func New(path string) *Store {
	return &Store{Path: path, state: StateIdle}
}

func (s *Store) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// Open ensures the schema exists at SchemaVersion and returns the shared
// *sql.DB handle. Safe under concurrent callers: only one caller performs
// the actual open/migrate; the rest await its result.
func (s *Store) Open() (*sql.DB, error) {
	s.mu.Lock()
	for {
		switch s.state {
		case StateOpen:
			db := s.db
			s.mu.Unlock()
			return db, nil
		case StateOpening:
			wait := s.openWait
			s.mu.Unlock()
			<-wait
			s.mu.Lock()
			continue
		case StateDeleting:
			wait := s.delWait
			s.mu.Unlock()
			<-wait
			s.mu.Lock()
			continue
		default: // idle, error: attempt to (re)open
			s.state = StateOpening
			s.openWait = make(chan struct{})
			wait := s.openWait
			s.mu.Unlock()

			db, err := s.doOpen()

			s.mu.Lock()
			if err != nil {
				s.state = StateError
				s.openErr = err
				s.db = nil
			} else {
				s.state = StateOpen
				s.db = db
				s.openErr = nil
			}
			close(wait)
			s.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return db, nil
		}
	}
}

func (s *Store) doOpen() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", s.Path)
	if err != nil {
		return nil, errs.New(errs.KindEngineUnavailable, "open sqlite handle", err)
	}
	// A single logical writer per process (spec.md §1 non-goals): every
	// reader and writer shares one connection, so bulk-update transactions
	// never interleave. Queries do not run in parallel with an open
	// bulk-update transaction; they wait until it commits or rolls back.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.New(errs.KindEngineUnavailable, "ping sqlite handle", err)
	}
	if err := migrate(db, SchemaVersion); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the engine handle. A subsequent call reopens lazily.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.state = StateIdle
		return err
	}
	s.state = StateIdle
	return nil
}

// Destroy closes then removes the entire store. It waits for in-flight
// transactions to finish first so destroy never races a bulk-update, and
// is safe to call from any state.
func (s *Store) Destroy() error {
	s.mu.Lock()
	s.state = StateDeleting
	s.delWait = make(chan struct{})
	wait := s.delWait
	s.mu.Unlock()

	s.inFlight.Wait()

	s.mu.Lock()
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	s.mu.Unlock()

	var rmErr error
	if s.Path != ":memory:" && s.Path != "" {
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
			rmErr = fmt.Errorf("store: remove %s: %w", s.Path, err)
		}
	}

	s.mu.Lock()
	s.state = StateIdle
	close(wait)
	s.mu.Unlock()
	return rmErr
}

// State returns the store's current lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// beginTx starts a transaction and registers it with inFlight so Destroy
// waits for it to finish.
func (s *Store) beginTx() (*sql.Tx, func(), error) {
	db, err := s.Open()
	if err != nil {
		return nil, nil, err
	}
	s.inFlight.Add(1)
	done := func() { s.inFlight.Done() }
	tx, err := db.Begin()
	if err != nil {
		done()
		return nil, nil, errs.New(errs.KindEngineUnavailable, "begin transaction", err)
	}
	return tx, done, nil
}

// abort rolls back a transaction, tolerating a double-abort (rolling back
// an already-committed or already-rolled-back tx) silently, per spec.md
// §4.1's "tolerate double-abort exceptions silently".
func abort(tx *sql.Tx) {
	_ = tx.Rollback()
}
