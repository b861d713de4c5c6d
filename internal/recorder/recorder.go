// Package recorder keeps a measurement log of device readings and status
// events in SQLite.
package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Soberat/GLAD/internal/event"
	"github.com/Soberat/GLAD/pkg/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS readings (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	device TEXT NOT NULL,
	name   TEXT NOT NULL,
	value  REAL NOT NULL,
	ts     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS readings_device_ts ON readings (device, ts);

CREATE TABLE IF NOT EXISTS events (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	device TEXT NOT NULL,
	kind   TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	run_id TEXT NOT NULL DEFAULT '',
	step   INTEGER NOT NULL DEFAULT 0,
	ts     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_device_ts ON events (device, ts);
`

// Reading is one recorded measurement.
type Reading struct {
	Device string    `json:"device"`
	Name   string    `json:"name"`
	Value  float64   `json:"value"`
	Time   time.Time `json:"time"`
}

// Entry is one recorded status or profile event.
type Entry struct {
	Device string     `json:"device"`
	Kind   event.Kind `json:"kind"`
	Reason string     `json:"reason,omitempty"`
	RunID  string     `json:"run_id,omitempty"`
	Step   int        `json:"step,omitempty"`
	Time   time.Time  `json:"time"`
}

type Config struct {
	// Buffer is the number of events the recorder may lag behind the bus.
	Buffer int
	Logger log.Logger
}

// Recorder subscribes to a bus and writes every event it receives.
type Recorder struct {
	db  *sql.DB
	sub *event.Subscription
	log log.Logger

	insertReading *sql.Stmt
	insertEvent   *sql.Stmt
}

// Open opens the database at path and applies the pragmas the recorder
// relies on. ":memory:" opens a private in-memory database.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open sqlite database failed: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("recorder: execute %s failed: %w", pragma, err)
		}
	}
	// One connection serializes writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// New prepares the schema in db and subscribes to bus. The recorder takes
// ownership of db.
func New(db *sql.DB, bus *event.Bus, cfg Config) (*Recorder, error) {
	if cfg.Buffer < 1 {
		cfg.Buffer = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Std()
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("recorder: prepare schema failed: %w", err)
	}
	insertReading, err := db.Prepare(`INSERT INTO readings (device, name, value, ts) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("recorder: prepare insert failed: %w", err)
	}
	insertEvent, err := db.Prepare(`INSERT INTO events (device, kind, reason, run_id, step, ts) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		insertReading.Close()
		return nil, fmt.Errorf("recorder: prepare insert failed: %w", err)
	}

	return &Recorder{
		db:            db,
		sub:           bus.Subscribe(cfg.Buffer),
		log:           cfg.Logger.WithName("recorder"),
		insertReading: insertReading,
		insertEvent:   insertEvent,
	}, nil
}

// Start writes events until ctx is cancelled, flushes what is buffered and
// closes the database.
func (r *Recorder) Start(ctx context.Context) error {
	defer r.Close()
	r.log.Info("Recording device events")

	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case e, ok := <-r.sub.C:
			if !ok {
				return nil
			}
			r.write(ctx, e)
		}
	}
}

func (r *Recorder) flush() {
	ctx := context.Background()
	for {
		select {
		case e, ok := <-r.sub.C:
			if !ok {
				return
			}
			r.write(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e event.Event) {
	if err := r.Record(ctx, e); err != nil {
		r.log.Error(err, "Failed to record event", "device", e.Device, "kind", e.Kind)
	}
}

// Record stores one event. Readings go to the readings table, everything
// else to the events table.
func (r *Recorder) Record(ctx context.Context, e event.Event) error {
	ts := e.Time.UnixNano()
	if e.Kind == event.Reading {
		if e.Reading == nil {
			return errors.New("reading event without a value")
		}
		_, err := r.insertReading.ExecContext(ctx, e.Device, e.Reading.Name, e.Reading.Value, ts)
		return err
	}

	var runID string
	var step int
	if e.Profile != nil {
		runID, step = e.Profile.RunID, e.Profile.Step
	}
	_, err := r.insertEvent.ExecContext(ctx, e.Device, string(e.Kind), e.Reason, runID, step, ts)
	return err
}

// Readings returns the latest readings of a device, newest first. An empty
// name matches every reading.
func (r *Recorder) Readings(ctx context.Context, device, name string, limit int) ([]Reading, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT device, name, value, ts FROM readings
		 WHERE device = ? AND (? = '' OR name = ?)
		 ORDER BY ts DESC, id DESC LIMIT ?`,
		device, name, name, limit)
	if err != nil {
		return nil, fmt.Errorf("recorder: query readings failed: %w", err)
	}
	defer rows.Close()

	out := []Reading{}
	for rows.Next() {
		var rd Reading
		var ts int64
		if err := rows.Scan(&rd.Device, &rd.Name, &rd.Value, &ts); err != nil {
			return nil, err
		}
		rd.Time = time.Unix(0, ts).UTC()
		out = append(out, rd)
	}
	return out, rows.Err()
}

// Entries returns the latest non-reading events of a device, newest first.
func (r *Recorder) Entries(ctx context.Context, device string, limit int) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT device, kind, reason, run_id, step, ts FROM events
		 WHERE device = ? ORDER BY ts DESC, id DESC LIMIT ?`,
		device, limit)
	if err != nil {
		return nil, fmt.Errorf("recorder: query events failed: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var en Entry
		var kind string
		var ts int64
		if err := rows.Scan(&en.Device, &kind, &en.Reason, &en.RunID, &en.Step, &ts); err != nil {
			return nil, err
		}
		en.Kind = event.Kind(kind)
		en.Time = time.Unix(0, ts).UTC()
		out = append(out, en)
	}
	return out, rows.Err()
}

// Close unsubscribes and closes the database.
func (r *Recorder) Close() error {
	r.sub.Close()
	r.insertReading.Close()
	r.insertEvent.Close()
	return r.db.Close()
}
