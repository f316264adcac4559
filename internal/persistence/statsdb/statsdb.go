// Package statsdb keeps a SQLite history of simulation runs and their
// per-query statistics.
package statsdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/epidemic-simulator/model"
)

// Run describes one finished simulation.
type Run struct {
	ID         string        `db:"id"`
	Scenario   string        `db:"scenario"`
	Engine     string        `db:"engine"`
	Patches    int           `db:"patches"`
	Padding    int           `db:"padding"`
	Ticks      int           `db:"ticks"`
	Population int           `db:"population"`
	StartedAt  time.Time     `db:"started_at"`
	Duration   time.Duration `db:"duration_ns"`
}

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

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
		id TEXT PRIMARY KEY,
		scenario TEXT NOT NULL,
		engine TEXT NOT NULL,
		patches INTEGER NOT NULL,
		padding INTEGER NOT NULL,
		ticks INTEGER NOT NULL,
		population INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		duration_ns INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS statistics (
		run_id TEXT NOT NULL REFERENCES runs(id),
		query TEXT NOT NULL,
		tick INTEGER NOT NULL,
		susceptible INTEGER NOT NULL,
		infected INTEGER NOT NULL,
		infectious INTEGER NOT NULL,
		recovered INTEGER NOT NULL,
		PRIMARY KEY (run_id, query, tick)
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveRun stores run and every statistics series of out in one
// transaction. An empty run.ID is replaced by a fresh uuid. The stored id is
// returned.
func (db *DB) SaveRun(ctx context.Context, run Run, out *model.Output) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, `INSERT INTO runs
		(id, scenario, engine, patches, padding, ticks, population, started_at, duration_ns)
		VALUES (:id, :scenario, :engine, :patches, :padding, :ticks, :population, :started_at, :duration_ns)`,
		run); err != nil {
		return "", fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO statistics
		(run_id, query, tick, susceptible, infected, infectious, recovered)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	if out != nil {
		for query, series := range out.Statistics {
			for tick, s := range series {
				if _, err := stmt.ExecContext(ctx, run.ID, query, tick,
					s.Susceptible, s.Infected, s.Infectious, s.Recovered); err != nil {
					return "", fmt.Errorf("insert statistics %s/%d: %w", query, tick, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return run.ID, nil
}

// GetRun loads the run stored under id.
func (db *DB) GetRun(ctx context.Context, id string) (Run, error) {
	var run Run
	err := db.conn.GetContext(ctx, &run, `SELECT id, scenario, engine, patches, padding,
		ticks, population, started_at, duration_ns FROM runs WHERE id = ?`, id)
	return run, err
}

// ListRuns returns every stored run, oldest first.
func (db *DB) ListRuns(ctx context.Context) ([]Run, error) {
	var runs []Run
	err := db.conn.SelectContext(ctx, &runs, `SELECT id, scenario, engine, patches, padding,
		ticks, population, started_at, duration_ns FROM runs ORDER BY started_at, id`)
	return runs, err
}

type statisticsRow struct {
	Query       string `db:"query"`
	Tick        int    `db:"tick"`
	Susceptible int64  `db:"susceptible"`
	Infected    int64  `db:"infected"`
	Infectious  int64  `db:"infectious"`
	Recovered   int64  `db:"recovered"`
}

// LoadStatistics returns the per-query series stored for runID, ordered by
// tick.
func (db *DB) LoadStatistics(ctx context.Context, runID string) (map[string][]model.Statistics, error) {
	var rows []statisticsRow
	if err := db.conn.SelectContext(ctx, &rows, `SELECT query, tick, susceptible, infected,
		infectious, recovered FROM statistics WHERE run_id = ? ORDER BY query, tick`, runID); err != nil {
		return nil, err
	}

	out := make(map[string][]model.Statistics)
	for _, row := range rows {
		series := out[row.Query]
		if row.Tick != len(series) {
			return nil, fmt.Errorf("statistics %s: tick %d missing", row.Query, len(series))
		}
		out[row.Query] = append(series, model.Statistics{
			Susceptible: row.Susceptible,
			Infected:    row.Infected,
			Infectious:  row.Infectious,
			Recovered:   row.Recovered,
		})
	}
	return out, nil
}
