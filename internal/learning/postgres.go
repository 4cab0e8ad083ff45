package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/easeverse/easeverse-server/internal/pocketgrid"
)

// PostgresStore persists learning data in PostgreSQL. The schema is created
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
			`CREATE TABLE IF NOT EXISTS learning_session_events (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				song_id TEXT,
				genre TEXT,
				title TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
				text_accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
				pronunciation_clarity DOUBLE PRECISION NOT NULL DEFAULT 0,
				timing_consistency TEXT NOT NULL DEFAULT 'medium',
				transcript TEXT,
				expected_words JSONB NOT NULL DEFAULT '[]',
				spoken_words JSONB NOT NULL DEFAULT '[]',
				matched_words JSONB NOT NULL DEFAULT '[]',
				weak_words JSONB NOT NULL DEFAULT '[]',
				strong_words JSONB NOT NULL DEFAULT '[]',
				weak_sounds JSONB NOT NULL DEFAULT '{}',
				tips JSONB NOT NULL DEFAULT '[]',
				UNIQUE (user_id, session_id)
			);`,
			`CREATE INDEX IF NOT EXISTS idx_learning_session_events_user_created
				ON learning_session_events (user_id, created_at DESC);`,
			`CREATE TABLE IF NOT EXISTS learning_easepocket_events (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				event_id TEXT NOT NULL,
				mode TEXT NOT NULL,
				bpm DOUBLE PRECISION NOT NULL,
				grid TEXT NOT NULL,
				beats_per_bar INT NOT NULL DEFAULT 4,
				stats JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				UNIQUE (user_id, event_id)
			);`,
			`CREATE INDEX IF NOT EXISTS idx_learning_easepocket_events_user_created
				ON learning_easepocket_events (user_id, created_at DESC);`,
			`CREATE TABLE IF NOT EXISTS learning_word_difficulty (
				word TEXT PRIMARY KEY,
				attempts INT NOT NULL DEFAULT 0,
				failures INT NOT NULL DEFAULT 0,
				successes INT NOT NULL DEFAULT 0
			);`,
			`CREATE TABLE IF NOT EXISTS learning_tip_effectiveness (
				tip_key TEXT PRIMARY KEY,
				shown_count INT NOT NULL DEFAULT 0,
				improved_count INT NOT NULL DEFAULT 0,
				success_score DOUBLE PRECISION NOT NULL DEFAULT 0
			);`,
			`CREATE TABLE IF NOT EXISTS learning_user_profiles (
				user_id TEXT PRIMARY KEY,
				profile JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);`,
		}
		for _, stmt := range stmts {
			if _, err := s.pool.Exec(ctx, stmt); err != nil {
				s.schemaErr = fmt.Errorf("init learning schema: %w", err)
				return
			}
		}
	})
	return s.schemaErr
}

func (s *PostgresStore) InsertSessionEvent(ctx context.Context, ev SessionEvent) (bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return false, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	expected, _ := json.Marshal(ev.ExpectedWords)
	spoken, _ := json.Marshal(ev.SpokenWords)
	matched, _ := json.Marshal(ev.MatchedWords)
	weak, _ := json.Marshal(ev.WeakWords)
	strong, _ := json.Marshal(ev.StrongWords)
	sounds, _ := json.Marshal(ev.WeakSounds)
	tips, _ := json.Marshal(ev.Tips)

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO learning_session_events
			(id, user_id, session_id, song_id, genre, title, created_at, duration_seconds,
			 text_accuracy, pronunciation_clarity, timing_consistency, transcript,
			 expected_words, spoken_words, matched_words, weak_words, strong_words, weak_sounds, tips)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		 ON CONFLICT (user_id, session_id) DO NOTHING`,
		ev.ID, ev.UserID, ev.SessionID, ev.SongID, ev.Genre, ev.Title, ev.CreatedAt, ev.DurationSeconds,
		ev.TextAccuracy, ev.PronunciationClarity, string(ev.TimingConsistency), ev.Transcript,
		expected, spoken, matched, weak, strong, sounds, tips,
	)
	if err != nil {
		return false, fmt.Errorf("insert session event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) InsertEasePocketEvent(ctx context.Context, ev EasePocketEvent) (bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return false, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	stats, _ := json.Marshal(ev.Stats)

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO learning_easepocket_events
			(id, user_id, event_id, mode, bpm, grid, beats_per_bar, stats, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (user_id, event_id) DO NOTHING`,
		ev.ID, ev.UserID, ev.EventID, string(ev.Mode), ev.BPM, string(ev.Grid), ev.BeatsPerBar, stats, ev.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert easepocket event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SessionEventsByUser(ctx context.Context, userID string) ([]SessionEvent, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, session_id, song_id, genre, title, created_at, duration_seconds,
			text_accuracy, pronunciation_clarity, timing_consistency, transcript,
			expected_words, spoken_words, matched_words, weak_words, strong_words, weak_sounds, tips
		 FROM learning_session_events WHERE user_id=$1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var (
			ev                                                      SessionEvent
			songID, genre, title, transcript                        *string
			timing                                                  string
			expected, spoken, matched, weak, strong, sounds, tipsJS []byte
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.SessionID, &songID, &genre, &title, &ev.CreatedAt,
			&ev.DurationSeconds, &ev.TextAccuracy, &ev.PronunciationClarity, &timing, &transcript,
			&expected, &spoken, &matched, &weak, &strong, &sounds, &tipsJS); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		ev.SongID = deref(songID)
		ev.Genre = deref(genre)
		ev.Title = deref(title)
		ev.Transcript = deref(transcript)
		ev.TimingConsistency = TimingConsistency(timing)
		_ = json.Unmarshal(expected, &ev.ExpectedWords)
		_ = json.Unmarshal(spoken, &ev.SpokenWords)
		_ = json.Unmarshal(matched, &ev.MatchedWords)
		_ = json.Unmarshal(weak, &ev.WeakWords)
		_ = json.Unmarshal(strong, &ev.StrongWords)
		_ = json.Unmarshal(sounds, &ev.WeakSounds)
		_ = json.Unmarshal(tipsJS, &ev.Tips)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session events: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) EasePocketEventsByUser(ctx context.Context, userID string) ([]EasePocketEvent, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, event_id, mode, bpm, grid, beats_per_bar, stats, created_at
		 FROM learning_easepocket_events WHERE user_id=$1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query easepocket events: %w", err)
	}
	defer rows.Close()

	var events []EasePocketEvent
	for rows.Next() {
		var (
			ev         EasePocketEvent
			mode, grid string
			stats      []byte
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.EventID, &mode, &ev.BPM, &grid, &ev.BeatsPerBar, &stats, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan easepocket event: %w", err)
		}
		ev.Mode = Mode(mode)
		ev.Grid = pocketKind(grid)
		_ = json.Unmarshal(stats, &ev.Stats)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate easepocket events: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) BumpWordAttempt(ctx context.Context, word string, failed, succeeded bool) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	fail, success := 0, 0
	if failed {
		fail = 1
	}
	if succeeded {
		success = 1
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO learning_word_difficulty (word, attempts, failures, successes)
		 VALUES ($1, 1, $2, $3)
		 ON CONFLICT (word) DO UPDATE SET
			attempts = learning_word_difficulty.attempts + 1,
			failures = learning_word_difficulty.failures + $2,
			successes = learning_word_difficulty.successes + $3`,
		word, fail, success,
	)
	if err != nil {
		return fmt.Errorf("bump word difficulty: %w", err)
	}
	return nil
}

func (s *PostgresStore) BumpTipShown(ctx context.Context, tipKey string, improved bool) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	imp := 0
	if improved {
		imp = 1
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO learning_tip_effectiveness (tip_key, shown_count, improved_count, success_score)
		 VALUES ($1, 1, $2, $2)
		 ON CONFLICT (tip_key) DO UPDATE SET
			shown_count = learning_tip_effectiveness.shown_count + 1,
			improved_count = learning_tip_effectiveness.improved_count + $2,
			success_score = (learning_tip_effectiveness.improved_count + $2)::DOUBLE PRECISION
				/ (learning_tip_effectiveness.shown_count + 1)`,
		tipKey, imp,
	)
	if err != nil {
		return fmt.Errorf("bump tip effectiveness: %w", err)
	}
	return nil
}

func (s *PostgresStore) TopWordDifficulties(ctx context.Context, limit int) ([]WordDifficulty, error) {
	return s.queryWords(ctx,
		`SELECT word, attempts, failures, successes FROM learning_word_difficulty
		 ORDER BY (failures::DOUBLE PRECISION / GREATEST(attempts, 1)) DESC, attempts DESC, word ASC
		 LIMIT $1`, normalizeLimit(limit))
}

func (s *PostgresStore) ChallengeWords(ctx context.Context, minAttempts, limit int) ([]WordDifficulty, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT word, attempts, failures, successes FROM learning_word_difficulty
		 WHERE attempts >= $1
		 ORDER BY (failures::DOUBLE PRECISION / GREATEST(attempts, 1)) DESC, attempts DESC, word ASC
		 LIMIT $2`, minAttempts, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query challenge words: %w", err)
	}
	return scanWords(rows)
}

func (s *PostgresStore) queryWords(ctx context.Context, sql string, limit int) ([]WordDifficulty, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("query word difficulty: %w", err)
	}
	return scanWords(rows)
}

func (s *PostgresStore) TopTipEffectiveness(ctx context.Context, limit int) ([]TipEffectiveness, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT tip_key, shown_count, improved_count, success_score FROM learning_tip_effectiveness
		 ORDER BY success_score DESC, shown_count DESC, tip_key ASC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query tip effectiveness: %w", err)
	}
	defer rows.Close()

	var tips []TipEffectiveness
	for rows.Next() {
		var t TipEffectiveness
		if err := rows.Scan(&t.TipKey, &t.ShownCount, &t.ImprovedCount, &t.SuccessScore); err != nil {
			return nil, fmt.Errorf("scan tip effectiveness: %w", err)
		}
		tips = append(tips, t)
	}
	return tips, rows.Err()
}

func (s *PostgresStore) BestTipForBucket(ctx context.Context, bucket string, minShown int) (TipEffectiveness, bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return TipEffectiveness{}, false, err
	}
	var t TipEffectiveness
	err := s.pool.QueryRow(ctx,
		`SELECT tip_key, shown_count, improved_count, success_score FROM learning_tip_effectiveness
		 WHERE tip_key LIKE '%:' || $1 AND shown_count >= $2
		 ORDER BY success_score DESC, shown_count DESC, tip_key ASC LIMIT 1`,
		bucket, minShown,
	).Scan(&t.TipKey, &t.ShownCount, &t.ImprovedCount, &t.SuccessScore)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TipEffectiveness{}, false, nil
		}
		return TipEffectiveness{}, false, fmt.Errorf("query best tip: %w", err)
	}
	return t, true, nil
}

func (s *PostgresStore) SaveProfile(ctx context.Context, p Profile) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	blob, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO learning_user_profiles (user_id, profile, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET profile = $2, updated_at = $3`,
		p.UserID, blob, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) ProfileByUser(ctx context.Context, userID string) (Profile, bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return Profile{}, false, err
	}
	var blob []byte
	err := s.pool.QueryRow(ctx,
		`SELECT profile FROM learning_user_profiles WHERE user_id=$1`, userID,
	).Scan(&blob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, false, nil
		}
		return Profile{}, false, fmt.Errorf("query profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(blob, &p); err != nil {
		return Profile{}, false, fmt.Errorf("unmarshal profile: %w", err)
	}
	return p, true, nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanWords(rows pgx.Rows) ([]WordDifficulty, error) {
	defer rows.Close()
	var words []WordDifficulty
	for rows.Next() {
		var w WordDifficulty
		if err := rows.Scan(&w.Word, &w.Attempts, &w.Failures, &w.Successes); err != nil {
			return nil, fmt.Errorf("scan word difficulty: %w", err)
		}
		if w.Attempts > 0 {
			w.FailureRate = float64(w.Failures) / float64(w.Attempts)
		}
		words = append(words, w)
	}
	return words, rows.Err()
}

func pocketKind(grid string) pocketgrid.Kind {
	k, err := pocketgrid.ParseKind(grid)
	if err != nil {
		return pocketgrid.KindSixteenth
	}
	return k
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 1000
	}
	return limit
}
