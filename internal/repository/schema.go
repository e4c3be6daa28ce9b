package repository

import (
	"context"
	"database/sql"
)

// Bootstrap creates the tables this service owns if they are missing. The
// DDL sticks to the type subset shared by Postgres and SQLite.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			balance INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			file_name TEXT NOT NULL,
			file_key TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			duration_minutes REAL NOT NULL DEFAULT 0,
			diarization_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			diarization_status TEXT,
			diarization_progress INTEGER NOT NULL DEFAULT 0,
			refinement_pending BOOLEAN NOT NULL DEFAULT FALSE,
			transcript TEXT NOT NULL DEFAULT '',
			subtitle_content TEXT NOT NULL DEFAULT '',
			refined_transcript TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			speaker_profiles TEXT,
			speaker_segments TEXT,
			credits_required INTEGER NOT NULL DEFAULT 0,
			credits_charged BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			job_id TEXT,
			amount INTEGER NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs (user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_job ON credit_transactions (job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_user_created ON credit_transactions (user_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
