package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq" // PostgreSQL
	_ "modernc.org/sqlite"
)

// ScheduleRecord is a recurring bake persisted across restarts.
type ScheduleRecord struct {
	Name     string
	Repo     string
	Ref      string
	CronSpec string
	Bakery   string
	Prune    bool
}

// SubmissionRecord is one recipe handed to a bakery.
type SubmissionRecord struct {
	RunID       string
	Recipe      string
	JobName     string
	Bakery      string
	JobID       string
	Status      string
	Error       string
	SubmittedAt int64
	FinishedAt  int64
}

var ErrNotFound = errors.New("not found")

type Store struct {
	db     *sql.DB
	driver string
}

func OpenStore(driver, path string) (*Store, error) {
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		db.Exec(`PRAGMA foreign_keys = ON`)
	}
	if driver == "postgres" {
		db.SetConnMaxIdleTime(15 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(100)
		db.SetConnMaxLifetime(1 * time.Hour)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS forge_schedules (
        name TEXT PRIMARY KEY,
        repo TEXT NOT NULL,
        ref TEXT,
        cron_spec TEXT NOT NULL,
        bakery TEXT NOT NULL,
        prune BOOLEAN NOT NULL DEFAULT FALSE
    )`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS forge_submissions (
        run_id TEXT NOT NULL,
        recipe TEXT NOT NULL,
        job_name TEXT NOT NULL,
        bakery TEXT NOT NULL,
        job_id TEXT,
        status TEXT,
        error TEXT,
        submitted_at INTEGER,
        finished_at INTEGER
    )`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_forge_submissions_recipe_submitted ON forge_submissions(recipe, submitted_at)`)
	return err
}

type DBDriver string

const (
	SQLite     DBDriver = "sqlite"
	PostgreSQL DBDriver = "postgres"
)

func (s *Store) IsSQLite() bool {
	return DBDriver(s.driver) == SQLite
}

func (s *Store) IsPostgres() bool {
	return DBDriver(s.driver) == PostgreSQL
}

func (s *Store) Upsert(ctx context.Context, r ScheduleRecord) error {
	query := `INSERT INTO forge_schedules (name, repo, ref, cron_spec, bakery, prune)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET
            repo = EXCLUDED.repo,
            ref = EXCLUDED.ref,
            cron_spec = EXCLUDED.cron_spec,
            bakery = EXCLUDED.bakery,
            prune = EXCLUDED.prune`

	if s.IsSQLite() {
		query = `INSERT OR REPLACE INTO forge_schedules (name, repo, ref, cron_spec, bakery, prune)
            VALUES (?, ?, ?, ?, ?, ?)`
	}
	if s.IsPostgres() {
		query = `INSERT INTO forge_schedules (name, repo, ref, cron_spec, bakery, prune)
            VALUES ($1, $2, $3, $4, $5, $6)
            ON CONFLICT(name) DO UPDATE SET
                repo = EXCLUDED.repo,
                ref = EXCLUDED.ref,
                cron_spec = EXCLUDED.cron_spec,
                bakery = EXCLUDED.bakery,
                prune = EXCLUDED.prune`
	}

	_, err := s.db.ExecContext(ctx, query, r.Name, r.Repo, r.Ref, r.CronSpec, r.Bakery, r.Prune)
	return err
}

func (s *Store) Delete(ctx context.Context, name string) error {
	query := `DELETE FROM forge_schedules WHERE name = ?`
	if s.IsPostgres() {
		query = `DELETE FROM forge_schedules WHERE name = $1`
	}
	res, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]ScheduleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, repo, ref, cron_spec, bakery, prune
        FROM forge_schedules ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduleRecord
	for rows.Next() {
		var r ScheduleRecord
		var ref sql.NullString
		if err := rows.Scan(&r.Name, &r.Repo, &ref, &r.CronSpec, &r.Bakery, &r.Prune); err != nil {
			return nil, err
		}
		r.Ref = ref.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordSubmission appends a submission to the ledger.
func (s *Store) RecordSubmission(ctx context.Context, e SubmissionRecord) error {
	query := `INSERT INTO forge_submissions
        (run_id, recipe, job_name, bakery, job_id, status, error, submitted_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if s.IsPostgres() {
		query = `INSERT INTO forge_submissions
        (run_id, recipe, job_name, bakery, job_id, status, error, submitted_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	}
	_, err := s.db.ExecContext(ctx, query,
		e.RunID, e.Recipe, e.JobName, e.Bakery, e.JobID, e.Status, e.Error, e.SubmittedAt, e.FinishedAt,
	)
	return err
}

// Submissions returns the most recent submissions, newest first.
func (s *Store) Submissions(ctx context.Context, limit int) ([]SubmissionRecord, error) {
	query := `SELECT run_id, recipe, job_name, bakery, job_id, status, error, submitted_at, finished_at
        FROM forge_submissions ORDER BY submitted_at DESC, rowid DESC LIMIT ?`
	if s.IsPostgres() {
		query = `SELECT run_id, recipe, job_name, bakery, job_id, status, error, submitted_at, finished_at
        FROM forge_submissions ORDER BY submitted_at DESC LIMIT $1`
	}
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubmissionRecord
	for rows.Next() {
		var r SubmissionRecord
		var jobID, status, errText sql.NullString
		if err := rows.Scan(&r.RunID, &r.Recipe, &r.JobName, &r.Bakery, &jobID, &status, &errText, &r.SubmittedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.JobID, r.Status, r.Error = jobID.String, status.String, errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}
