package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"cryptoscan/models"
)

type PostgresDB struct {
	DB *sql.DB
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pgDB := &PostgresDB{DB: db}
	if err := pgDB.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return pgDB, nil
}

func (p *PostgresDB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS scan_sessions (
			id TEXT PRIMARY KEY,
			file TEXT NOT NULL,
			session_timestamp TEXT NOT NULL,
			match_count INTEGER NOT NULL,
			saved_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS findings (
			id SERIAL PRIMARY KEY,
			session_id TEXT REFERENCES scan_sessions(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			algorithm TEXT NOT NULL,
			source TEXT NOT NULL,
			line INTEGER NOT NULL,
			match TEXT,
			context TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_sessions_saved_at ON scan_sessions(saved_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_findings_session ON findings(session_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_findings_algorithm ON findings(algorithm)`,
	}

	for _, query := range queries {
		if _, err := p.DB.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}

// RecordSession stores the session and its findings in one transaction.
func (p *PostgresDB) RecordSession(ctx context.Context, file string, session *models.Session) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", models.ErrIO, err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO scan_sessions (id, file, session_timestamp, match_count, saved_at) VALUES ($1, $2, $3, $4, $5)`,
		id, file, session.Timestamp, session.Count, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: insert session: %v", models.ErrIO, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO findings (session_id, position, algorithm, source, line, match, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("%w: prepare findings: %v", models.ErrIO, err)
	}
	defer stmt.Close()

	for i, m := range session.Results {
		if _, err := stmt.ExecContext(ctx, id, i, m.Algorithm, m.Source, m.Line, m.Match, m.Context); err != nil {
			return fmt.Errorf("%w: insert finding: %v", models.ErrIO, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", models.ErrIO, err)
	}
	return nil
}

func (p *PostgresDB) ListSessions(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.DB.QueryContext(ctx, `
		SELECT id, file, session_timestamp, match_count, saved_at
		FROM scan_sessions
		ORDER BY saved_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", models.ErrIO, err)
	}
	defer rows.Close()

	var sessions []models.SessionSummary
	for rows.Next() {
		var s models.SessionSummary
		if err := rows.Scan(&s.ID, &s.File, &s.Timestamp, &s.Count, &s.SavedAt); err != nil {
			return nil, fmt.Errorf("%w: scan session: %v", models.ErrIO, err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (p *PostgresDB) GetSession(ctx context.Context, id string) (*models.Session, error) {
	session := &models.Session{}
	err := p.DB.QueryRowContext(ctx,
		`SELECT session_timestamp, match_count FROM scan_sessions WHERE id = $1`, id,
	).Scan(&session.Timestamp, &session.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: archived session %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get session: %v", models.ErrIO, err)
	}

	rows, err := p.DB.QueryContext(ctx, `
		SELECT algorithm, source, line, match, context
		FROM findings
		WHERE session_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: get findings: %v", models.ErrIO, err)
	}
	defer rows.Close()

	session.Results = []models.Match{}
	for rows.Next() {
		var m models.Match
		if err := rows.Scan(&m.Algorithm, &m.Source, &m.Line, &m.Match, &m.Context); err != nil {
			return nil, fmt.Errorf("%w: scan finding: %v", models.ErrIO, err)
		}
		session.Results = append(session.Results, m)
	}
	return session, rows.Err()
}

func (p *PostgresDB) Close() error {
	return p.DB.Close()
}
