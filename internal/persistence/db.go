// Package persistence provides SQLite-based storage of simulation runs.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/commutersim/internal/engine"
)

// ErrRunNotFound is returned when a run ID is not in the database.
var ErrRunNotFound = errors.New("run not found")

// DB wraps a SQLite connection for run storage.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer; the reporter and API handlers share it.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		residents INTEGER NOT NULL,
		car_probability REAL NOT NULL,
		max_days INTEGER NOT NULL,
		population INTEGER NOT NULL,
		seed INTEGER,
		days_completed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS days (
		run_id TEXT NOT NULL,
		day INTEGER NOT NULL,
		cars INTEGER NOT NULL,
		bikes INTEGER NOT NULL,
		moving_average REAL NOT NULL,
		rain INTEGER NOT NULL,
		roadworks INTEGER NOT NULL,
		PRIMARY KEY (run_id, day)
	);

	CREATE TABLE IF NOT EXISTS run_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Run is a stored run header.
type Run struct {
	RunID          string     `json:"run_id"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Residents      int        `json:"residents_per_location"`
	CarProbability float64    `json:"initial_car_probability"`
	MaxDays        int        `json:"max_days"`
	Population     int        `json:"population"`
	Seed           *int64     `json:"seed,omitempty"`
	DaysCompleted  int        `json:"days_completed"`
}

type runRow struct {
	RunID          string         `db:"run_id"`
	StartedAt      string         `db:"started_at"`
	FinishedAt     sql.NullString `db:"finished_at"`
	Residents      int            `db:"residents"`
	CarProbability float64        `db:"car_probability"`
	MaxDays        int            `db:"max_days"`
	Population     int            `db:"population"`
	Seed           sql.NullInt64  `db:"seed"`
	DaysCompleted  int            `db:"days_completed"`
}

func (r runRow) toRun() Run {
	run := Run{
		RunID:          r.RunID,
		Residents:      r.Residents,
		CarProbability: r.CarProbability,
		MaxDays:        r.MaxDays,
		Population:     r.Population,
		DaysCompleted:  r.DaysCompleted,
	}
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, r.StartedAt)
	if r.FinishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, r.FinishedAt.String); err == nil {
			run.FinishedAt = &t
		}
	}
	if r.Seed.Valid {
		seed := r.Seed.Int64
		run.Seed = &seed
	}
	return run
}

// SaveRun inserts a run header. Saving the same run ID twice replaces it and
// discards its stored days.
func (db *DB) SaveRun(ev engine.ResetEvent) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id := ev.RunID.String()
	if _, err := tx.Exec("DELETE FROM days WHERE run_id = ?", id); err != nil {
		return err
	}

	var seed sql.NullInt64
	if ev.Setup.Seed != nil {
		seed = sql.NullInt64{Int64: *ev.Setup.Seed, Valid: true}
	}
	_, err = tx.Exec(`INSERT OR REPLACE INTO runs
		(run_id, started_at, residents, car_probability, max_days, population, seed, days_completed)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		id, ev.At.UTC().Format(time.RFC3339Nano),
		ev.Setup.ResidentsPerLocation, ev.Setup.CarProbability, ev.Setup.MaxDays,
		ev.Population, seed,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", id, err)
	}

	return tx.Commit()
}

// SaveDay appends one day's results to a run.
func (db *DB) SaveDay(runID string, rec engine.DayRecord) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT OR REPLACE INTO days
		(run_id, day, cars, bikes, moving_average, rain, roadworks)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Day, rec.Cars, rec.Bikes, rec.MovingAverage, rec.Rain, rec.Roadworks,
	)
	if err != nil {
		return fmt.Errorf("insert day %d: %w", rec.Day, err)
	}

	if _, err := tx.Exec(
		"UPDATE runs SET days_completed = MAX(days_completed, ?) WHERE run_id = ?",
		rec.Day+1, runID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// SaveHistory writes a run's full history (full replace of its days).
func (db *DB) SaveHistory(runID string, h engine.History) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM days WHERE run_id = ?", runID); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO days
		(run_id, day, cars, bikes, moving_average, rain, roadworks)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range h.Records() {
		if _, err := stmt.Exec(
			runID, rec.Day, rec.Cars, rec.Bikes, rec.MovingAverage, rec.Rain, rec.Roadworks,
		); err != nil {
			return fmt.Errorf("insert day %d: %w", rec.Day, err)
		}
	}

	if _, err := tx.Exec(
		"UPDATE runs SET days_completed = ? WHERE run_id = ?", h.Days, runID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// FinishRun marks a run as having stopped at the given day.
func (db *DB) FinishRun(runID string, day int, at time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE runs SET finished_at = ?, days_completed = ? WHERE run_id = ?",
		at.UTC().Format(time.RFC3339Nano), day, runID,
	)
	return err
}

// GetRun returns a single run header.
func (db *DB) GetRun(runID string) (Run, error) {
	var row runRow
	err := db.conn.Get(&row, "SELECT * FROM runs WHERE run_id = ?", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return Run{}, err
	}
	return row.toRun(), nil
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	var rows []runRow
	err := db.conn.Select(&rows,
		"SELECT * FROM runs ORDER BY started_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}

	runs := make([]Run, len(rows))
	for i, r := range rows {
		runs[i] = r.toRun()
	}
	return runs, nil
}

// LoadHistory returns a run's stored days in day order.
func (db *DB) LoadHistory(runID string) ([]engine.DayRecord, error) {
	if _, err := db.GetRun(runID); err != nil {
		return nil, err
	}

	var days []engine.DayRecord
	err := db.conn.Select(&days,
		"SELECT day, cars, bikes, moving_average, rain, roadworks FROM days WHERE run_id = ? ORDER BY day",
		runID,
	)
	return days, err
}

// SaveMeta stores a key-value pair in run metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO run_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM run_meta WHERE key = ?", key)
	return value, err
}
