package main

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"emailverify"
	"emailverify/internal/catchall"
)

// store persists verification outcomes so a caller can poll job status
// instead of waiting on the queue synchronously.
type store struct {
	db *sql.DB
}

func openStore(dsn string) (*store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &store{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS email_check (
			job_id             TEXT PRIMARY KEY,
			email              TEXT NOT NULL,
			status             TEXT NOT NULL,
			syntax_valid       BOOLEAN NOT NULL,
			domain_resolvable  BOOLEAN NOT NULL,
			smtp_accepted      BOOLEAN NOT NULL,
			catch_all          TEXT NOT NULL,
			diagnostic         TEXT NOT NULL DEFAULT '',
			attempts           INTEGER NOT NULL DEFAULT 1,
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

func (s *store) close() error { return s.db.Close() }

// upsertResult records the final outcome of verifying email under jobID,
// overwriting any prior attempt for the same job.
func (s *store) upsertResult(jobID, email string, result emailverify.Result, attempts int) error {
	_, err := s.db.Exec(`
		INSERT INTO email_check (job_id, email, status, syntax_valid, domain_resolvable, smtp_accepted, catch_all, diagnostic, attempts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			syntax_valid = EXCLUDED.syntax_valid,
			domain_resolvable = EXCLUDED.domain_resolvable,
			smtp_accepted = EXCLUDED.smtp_accepted,
			catch_all = EXCLUDED.catch_all,
			diagnostic = EXCLUDED.diagnostic,
			attempts = EXCLUDED.attempts,
			updated_at = now()
	`, jobID, email, string(result.Status), result.SyntaxValid, result.DomainResolvable, result.SMTPAccepted, string(result.CatchAllConfidence), result.Diagnostic, attempts)
	return err
}

// markGreylisted records that a job is awaiting retry rather than a
// final verdict, so status polls see progress instead of a stale row.
func (s *store) markGreylisted(jobID, email string, attempts int) error {
	_, err := s.db.Exec(`
		INSERT INTO email_check (job_id, email, status, syntax_valid, domain_resolvable, smtp_accepted, catch_all, diagnostic, attempts, updated_at)
		VALUES ($1, $2, 'GREYLISTED', true, true, false, $3, 'Greylisted, awaiting retry', $4, now())
		ON CONFLICT (job_id) DO UPDATE SET
			status = 'GREYLISTED',
			attempts = EXCLUDED.attempts,
			updated_at = now()
	`, jobID, email, string(catchall.Indetermin), attempts)
	return err
}
