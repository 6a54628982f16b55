package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notesSchema = `
CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore persists notes in a single Postgres table via pgxpool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the database, verifies the connection and ensures
// the notes table exists.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, notesSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring notes table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Read returns the note for id, or ErrNotFound.
func (p *PostgresStore) Read(ctx context.Context, id string) (Note, error) {
	var note Note
	err := p.pool.QueryRow(ctx,
		`SELECT content, updated_at FROM notes WHERE id = $1`, id,
	).Scan(&note.Content, &note.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Note{}, ErrNotFound
	}
	if err != nil {
		return Note{}, fmt.Errorf("reading note %s: %w", id, err)
	}
	return note, nil
}

// Write upserts the note and returns the database-assigned timestamp.
func (p *PostgresStore) Write(ctx context.Context, id, content string) (time.Time, error) {
	var updated time.Time
	err := p.pool.QueryRow(ctx,
		`INSERT INTO notes (id, content, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE
		 SET content = EXCLUDED.content,
		     updated_at = GREATEST(notes.updated_at, now())
		 RETURNING updated_at`,
		id, content,
	).Scan(&updated)
	if err != nil {
		return time.Time{}, fmt.Errorf("writing note %s: %w", id, err)
	}
	return updated, nil
}

// List returns the ids of all persisted notes.
func (p *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT id FROM notes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning note id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}
