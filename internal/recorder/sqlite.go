package recorder

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"EquitySync/internal/model"
)

// SQLiteRecorder persists pass history to a SQLite database.
type SQLiteRecorder struct {
	db *sqlx.DB
	mu sync.Mutex
}

// passRecord is the stored shape of PassRow; times are unix seconds.
type passRecord struct {
	ID         string `db:"id"`
	StartedAt  int64  `db:"started_at"`
	FinishedAt int64  `db:"finished_at"`
	Entities   int    `db:"entities"`
	Updated    int    `db:"updated"`
	Failed     int    `db:"failed"`
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	// WAL so status reads don't block a running pass.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS passes (
			id          TEXT PRIMARY KEY,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			entities    INTEGER NOT NULL,
			updated     INTEGER NOT NULL,
			failed      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_passes_started ON passes(started_at)`,

		`CREATE TABLE IF NOT EXISTS entity_results (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			pass_id   TEXT NOT NULL REFERENCES passes(id),
			entity    TEXT NOT NULL,
			stage     TEXT NOT NULL,
			outcome   TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			last_date TEXT,
			error     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_pass ON entity_results(pass_id)`,
		`CREATE INDEX IF NOT EXISTS idx_results_entity ON entity_results(entity)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordPass stores the pass and all of its entity results in one
// transaction. A report without an ID gets one.
func (r *SQLiteRecorder) RecordPass(report *model.PassReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	p := passRow(report)

	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExec(`INSERT INTO passes
		(id, started_at, finished_at, entities, updated, failed)
		VALUES (:id, :started_at, :finished_at, :entities, :updated, :failed)`,
		passRecord{
			ID: p.ID, StartedAt: p.StartedAt.Unix(), FinishedAt: p.FinishedAt.Unix(),
			Entities: p.Entities, Updated: p.Updated, Failed: p.Failed,
		}); err != nil {
		return fmt.Errorf("insert pass: %w", err)
	}

	for _, row := range resultRows(report) {
		if _, err := tx.NamedExec(`INSERT INTO entity_results
			(pass_id, entity, stage, outcome, row_count, last_date, error)
			VALUES (:pass_id, :entity, :stage, :outcome, :row_count, :last_date, :error)`, row); err != nil {
			return fmt.Errorf("insert result %s/%s: %w", row.Entity, row.Stage, err)
		}
	}
	return tx.Commit()
}

// RecentPasses returns up to limit passes, newest first.
func (r *SQLiteRecorder) RecentPasses(limit int) ([]PassRow, error) {
	if limit <= 0 {
		limit = 10
	}
	var recs []passRecord
	if err := r.db.Select(&recs, `SELECT id, started_at, finished_at, entities, updated, failed
		FROM passes ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("select passes: %w", err)
	}
	out := make([]PassRow, 0, len(recs))
	for _, rec := range recs {
		out = append(out, PassRow{
			ID:         rec.ID,
			StartedAt:  time.Unix(rec.StartedAt, 0).UTC(),
			FinishedAt: time.Unix(rec.FinishedAt, 0).UTC(),
			Entities:   rec.Entities,
			Updated:    rec.Updated,
			Failed:     rec.Failed,
		})
	}
	return out, nil
}

// PassResults returns the entity results of one pass in insertion order.
func (r *SQLiteRecorder) PassResults(passID string) ([]ResultRow, error) {
	var rows []ResultRow
	if err := r.db.Select(&rows, `SELECT pass_id, entity, stage, outcome, row_count,
		COALESCE(last_date, '') AS last_date, COALESCE(error, '') AS error
		FROM entity_results WHERE pass_id = ? ORDER BY id`, passID); err != nil {
		return nil, fmt.Errorf("select results: %w", err)
	}
	return rows, nil
}

func (r *SQLiteRecorder) Close() error {
	log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}
