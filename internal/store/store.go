// Package store implements the local event log and its materialized
// projection, the single serialized source of truth for one device.
// Every write — a local append or an ingested remote envelope — runs
// inside one transaction that persists the envelope, advances the
// vector clock, and updates the projected tables together, or not at
// all.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/tailmesh/browsersync/internal/clock"
	"github.com/tailmesh/browsersync/internal/event"
	"github.com/tailmesh/browsersync/internal/identity"
)

// ErrClockRegression is returned by Ingest when a never-before-seen
// envelope claims a counter for its own author that is not strictly
// greater than the counter already persisted for that author. A
// legitimately causally-ordered envelope always advances its author's
// counter by exactly one over what came before it; seeing otherwise
// means the envelope is corrupt or replayed under a different id, and
// the caller must treat the connection it arrived on as untrustworthy.
var ErrClockRegression = errors.New("envelope author counter did not advance")

// IngestOutcome reports what Ingest did with an incoming envelope.
type IngestOutcome int

const (
	// Applied means the envelope was new and has been projected.
	Applied IngestOutcome = iota
	// Duplicate means the envelope's id was already recorded; the
	// clock and projection were left untouched.
	Duplicate
)

func (o IngestOutcome) String() string {
	if o == Duplicate {
		return "duplicate"
	}
	return "applied"
}

// Store owns the sqlite-backed event log and its projected tables for one
// device.
type Store struct {
	db     *sql.DB
	device identity.DeviceID
}

// Open opens (creating if necessary) the event log at path and ensures
// its schema exists. device is this store's own identity, used as the
// author when appending local events.
func Open(path string, device identity.DeviceID) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: serialize all writers through one connection

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	s := &Store{db: db, device: device}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS applied_events (
	id          TEXT PRIMARY KEY,
	device      TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	envelope    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_applied_events_device ON applied_events(device);

CREATE TABLE IF NOT EXISTS vector_clock (
	device  TEXT PRIMARY KEY,
	counter INTEGER NOT NULL
);

-- Tracks, per mutable entity, the total-order tiebreak key of the
-- envelope that last wrote it, so that concurrent conflicting writes
-- converge to the same winner regardless of arrival order.
CREATE TABLE IF NOT EXISTS projection_provenance (
	entity_key TEXT PRIMARY KEY,
	clock_sum  INTEGER NOT NULL,
	timestamp  TEXT NOT NULL,
	device     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS extensions (
	id      TEXT PRIMARY KEY,
	name    TEXT NOT NULL,
	url     TEXT,
	version TEXT,
	source  TEXT,
	archive BLOB
);

CREATE TABLE IF NOT EXISTS containers (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL,
	color TEXT NOT NULL,
	icon  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS handlers (
	protocol TEXT PRIMARY KEY,
	handler  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS search_engines (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	url       TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS prefs (
	key        TEXT PRIMARY KEY,
	value_type TEXT NOT NULL,
	value_data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_tabs (
	event_id TEXT PRIMARY KEY,
	url      TEXT NOT NULL,
	title    TEXT
);
`

// Clock returns the current persisted vector clock.
func (s *Store) Clock() (clock.Clock, error) {
	rows, err := s.db.Query("SELECT device, counter FROM vector_clock")
	if err != nil {
		return nil, fmt.Errorf("query clock: %w", err)
	}
	defer rows.Close()

	c := clock.New()
	for rows.Next() {
		var dev string
		var counter uint64
		if err := rows.Scan(&dev, &counter); err != nil {
			return nil, fmt.Errorf("scan clock row: %w", err)
		}
		c[dev] = counter
	}
	return c, rows.Err()
}

// AppendLocal ticks this device's clock, builds an envelope for payload,
// persists it, and projects it, all within one transaction.
func (s *Store) AppendLocal(payload event.Payload) (event.Envelope, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return event.Envelope{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	c, err := clockTx(tx)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("read clock: %w", err)
	}

	deviceStr := s.device.String()
	ticked := c.Tick(deviceStr)
	env := event.New(deviceStr, ticked, payload)

	if err := persistEnvelope(tx, env); err != nil {
		return event.Envelope{}, fmt.Errorf("persist envelope: %w", err)
	}
	if err := project(tx, env, deviceStr); err != nil {
		return event.Envelope{}, fmt.Errorf("project envelope: %w", err)
	}
	if err := writeClock(tx, ticked); err != nil {
		return event.Envelope{}, fmt.Errorf("advance clock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return event.Envelope{}, fmt.Errorf("commit append: %w", err)
	}
	return env, nil
}

// Ingest applies a remote envelope idempotently: if its id is already
// recorded, Ingest is a no-op and returns Duplicate. Otherwise the clock
// is merged, the envelope projected, and its id recorded, all within one
// transaction; a projection failure rolls back the whole thing, leaving
// the clock unadvanced.
func (s *Store) Ingest(env event.Envelope) (IngestOutcome, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Applied, fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback()

	seen, err := hasEnvelope(tx, env.ID)
	if err != nil {
		return Applied, fmt.Errorf("check duplicate: %w", err)
	}
	if seen {
		return Duplicate, nil
	}

	c, err := clockTx(tx)
	if err != nil {
		return Applied, fmt.Errorf("read clock: %w", err)
	}

	if env.Clock.Get(env.Device) <= c.Get(env.Device) {
		return Applied, fmt.Errorf("%w: %s claimed %d, have %d", ErrClockRegression, env.Device, env.Clock.Get(env.Device), c.Get(env.Device))
	}
	merged := c.Merge(env.Clock)

	if err := persistEnvelope(tx, env); err != nil {
		return Applied, fmt.Errorf("persist envelope: %w", err)
	}
	if err := project(tx, env, s.device.String()); err != nil {
		return Applied, fmt.Errorf("project envelope: %w", err)
	}
	if err := writeClock(tx, merged); err != nil {
		return Applied, fmt.Errorf("advance clock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Applied, fmt.Errorf("commit ingest: %w", err)
	}
	return Applied, nil
}

// EventsSince returns every stored envelope e such that
// e.Clock[e.Device] > remote.Get(e.Device), sorted into the replay total
// order.
func (s *Store) EventsSince(remote clock.Clock) ([]event.Envelope, error) {
	rows, err := s.db.Query("SELECT envelope FROM applied_events")
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []event.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		if env.Clock.Get(env.Device) > remote.Get(env.Device) {
			out = append(out, env)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	event.SortTotalOrder(out)
	return out, nil
}

// Count returns the number of envelopes recorded in the log.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM applied_events").Scan(&n)
	return n, err
}

func clockTx(tx *sql.Tx) (clock.Clock, error) {
	rows, err := tx.Query("SELECT device, counter FROM vector_clock")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	c := clock.New()
	for rows.Next() {
		var dev string
		var counter uint64
		if err := rows.Scan(&dev, &counter); err != nil {
			return nil, err
		}
		c[dev] = counter
	}
	return c, rows.Err()
}

func writeClock(tx *sql.Tx, c clock.Clock) error {
	for dev, counter := range c {
		_, err := tx.Exec(`
			INSERT INTO vector_clock (device, counter) VALUES (?, ?)
			ON CONFLICT(device) DO UPDATE SET counter = excluded.counter
		`, dev, counter)
		if err != nil {
			return err
		}
	}
	return nil
}

func hasEnvelope(tx *sql.Tx, id string) (bool, error) {
	var exists int
	err := tx.QueryRow("SELECT 1 FROM applied_events WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func persistEnvelope(tx *sql.Tx, env event.Envelope) error {
	envJSON, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO applied_events (id, device, event_type, envelope)
		VALUES (?, ?, ?, ?)
	`, env.ID, env.Device, string(env.Event.Type()), string(envJSON))
	return err
}

func scanEnvelope(rows *sql.Rows) (event.Envelope, error) {
	var envJSON string
	if err := rows.Scan(&envJSON); err != nil {
		return event.Envelope{}, fmt.Errorf("scan envelope: %w", err)
	}
	var env event.Envelope
	if err := json.Unmarshal([]byte(envJSON), &env); err != nil {
		return event.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
