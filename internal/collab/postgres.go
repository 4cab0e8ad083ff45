package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists lyric drafts in PostgreSQL. The schema is created
// lazily and idempotently on first use.
type PostgresStore struct {
	pool       *pgxpool.Pool
	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 5
	cfg.MaxConnIdleTime = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS collab_lyrics_drafts (
				external_track_id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL DEFAULT '',
				title TEXT NOT NULL,
				artist TEXT NOT NULL DEFAULT '',
				bpm DOUBLE PRECISION NOT NULL DEFAULT 0,
				lyrics TEXT NOT NULL DEFAULT '',
				collaborators JSONB NOT NULL DEFAULT '[]',
				source TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				received_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);`,
			`CREATE INDEX IF NOT EXISTS idx_collab_lyrics_drafts_project
				ON collab_lyrics_drafts (project_id);`,
			`CREATE INDEX IF NOT EXISTS idx_collab_lyrics_drafts_source
				ON collab_lyrics_drafts (source);`,
		}
		for _, stmt := range stmts {
			if _, err := s.pool.Exec(ctx, stmt); err != nil {
				s.schemaErr = fmt.Errorf("init collab schema: %w", err)
				return
			}
		}
	})
	return s.schemaErr
}

func (s *PostgresStore) Upsert(ctx context.Context, d Draft) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	collaborators, _ := json.Marshal(d.Collaborators)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO collab_lyrics_drafts
			(external_track_id, project_id, title, artist, bpm, lyrics,
			 collaborators, source, updated_at, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (external_track_id) DO UPDATE SET
			project_id = EXCLUDED.project_id,
			title = EXCLUDED.title,
			artist = EXCLUDED.artist,
			bpm = EXCLUDED.bpm,
			lyrics = EXCLUDED.lyrics,
			collaborators = EXCLUDED.collaborators,
			source = EXCLUDED.source,
			updated_at = EXCLUDED.updated_at,
			received_at = EXCLUDED.received_at`,
		d.ExternalTrackID, d.ProjectID, d.Title, d.Artist, d.BPM, d.Lyrics,
		collaborators, d.Source, d.UpdatedAt, d.ReceivedAt)
	if err != nil {
		return fmt.Errorf("upsert draft: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, externalTrackID string) (Draft, bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return Draft{}, false, err
	}
	row := s.pool.QueryRow(ctx, `
		SELECT external_track_id, project_id, title, artist, bpm, lyrics,
		       collaborators, source, updated_at, received_at
		FROM collab_lyrics_drafts
		WHERE external_track_id = $1`, externalTrackID)

	d, err := scanDraft(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Draft{}, false, nil
	}
	if err != nil {
		return Draft{}, false, fmt.Errorf("get draft: %w", err)
	}
	return d, true, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Draft, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT external_track_id, project_id, title, artist, bpm, lyrics,
		       collaborators, source, updated_at, received_at
		FROM collab_lyrics_drafts
		WHERE ($1 = '' OR project_id = $1)
		  AND ($2 = '' OR source = $2)
		ORDER BY updated_at DESC, external_track_id ASC`,
		f.ProjectID, f.Source)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	var out []Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	return out, nil
}

func scanDraft(row pgx.Row) (Draft, error) {
	var d Draft
	var collaborators []byte
	err := row.Scan(&d.ExternalTrackID, &d.ProjectID, &d.Title, &d.Artist, &d.BPM,
		&d.Lyrics, &collaborators, &d.Source, &d.UpdatedAt, &d.ReceivedAt)
	if err != nil {
		return Draft{}, err
	}
	if err := json.Unmarshal(collaborators, &d.Collaborators); err != nil {
		return Draft{}, fmt.Errorf("decode collaborators: %w", err)
	}
	if d.Collaborators == nil {
		d.Collaborators = []string{}
	}
	return d, nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
