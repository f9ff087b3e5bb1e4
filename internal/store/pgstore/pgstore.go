// Package pgstore is the Postgres snapshot store, selected with
// database.driver: postgres. It mirrors the SQLite store's behaviour.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/fortify/internal/logging"
	"github.com/example/fortify/internal/models"
	"github.com/example/fortify/internal/store"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

func Open(ctx context.Context, dsn string, maxConns int, log *logging.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg dsn parse: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pg connect: %w", err)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Store{pool: pool, log: log.With("module", "pgstore")}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Migrate(ctx context.Context) error {
	stmt := `
CREATE TABLE IF NOT EXISTS profiles (
	id UUID PRIMARY KEY,
	target_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	profile_url TEXT NOT NULL,
	status TEXT NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	last_captured_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (target_id, platform)
);
CREATE TABLE IF NOT EXISTS snapshots (
	id UUID PRIMARY KEY,
	profile_id UUID NOT NULL REFERENCES profiles(id),
	version INTEGER NOT NULL,
	payload JSONB NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL,
	UNIQUE (profile_id, version)
);
`
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) EnsureProfile(ctx context.Context, targetID string, platform models.Platform, profileURL string) (models.Profile, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `INSERT INTO profiles (id, target_id, platform, profile_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (target_id, platform) DO UPDATE SET
			profile_url = EXCLUDED.profile_url,
			status = EXCLUDED.status,
			last_error = '',
			updated_at = EXCLUDED.updated_at
		RETURNING `+profileCols,
		uuid.New(), targetID, string(platform), profileURL, string(models.StatusInProgress), now)
	p, err := scanProfile(row)
	if err != nil {
		return models.Profile{}, fmt.Errorf("ensure profile: %w", err)
	}
	return p, nil
}

func (s *Store) MarkFailed(ctx context.Context, profileID, reason string) error {
	id, err := uuid.Parse(profileID)
	if err != nil {
		return store.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `UPDATE profiles SET status = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
		string(models.StatusFailed), reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const profileCols = `id::text, target_id, platform, profile_url, status, last_error, last_captured_at, created_at, updated_at`

func (s *Store) Profile(ctx context.Context, id string) (models.Profile, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return models.Profile{}, store.ErrNotFound
	}
	return scanProfile(s.pool.QueryRow(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = $1`, uid))
}

func (s *Store) ProfileByTarget(ctx context.Context, targetID string, platform models.Platform) (models.Profile, error) {
	return scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileCols+` FROM profiles WHERE target_id = $1 AND platform = $2`, targetID, string(platform)))
}

func scanProfile(row pgx.Row) (models.Profile, error) {
	var (
		p        models.Profile
		platform string
		status   string
	)
	err := row.Scan(&p.ID, &p.TargetID, &platform, &p.ProfileURL, &status, &p.LastError, &p.LastCapturedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Profile{}, store.ErrNotFound
	}
	if err != nil {
		return models.Profile{}, err
	}
	p.Platform = models.Platform(platform)
	p.Status = models.ProfileStatus(status)
	return p, nil
}

// Append writes the next version. Two concurrent appends can compute the same
// MAX; the loser hits the unique constraint and tries again.
func (s *Store) Append(ctx context.Context, profileID string, payload models.Payload) (models.Snapshot, error) {
	id, err := uuid.Parse(profileID)
	if err != nil {
		return models.Snapshot{}, store.ErrNotFound
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("encode payload: %w", err)
	}
	for attempt := 1; ; attempt++ {
		snap, err := s.appendOnce(ctx, id, body)
		if err == nil {
			snap.Payload = payload.Clone()
			return snap, nil
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation || attempt == store.MaxVersionAttempts {
			return models.Snapshot{}, err
		}
		s.log.Debug("version conflict, retrying", "profile_id", profileID, "attempt", attempt)
	}
}

func (s *Store) appendOnce(ctx context.Context, profileID uuid.UUID, body []byte) (models.Snapshot, error) {
	now := time.Now().UTC()
	snapID := uuid.New()
	snap := models.Snapshot{ID: snapID.String(), ProfileID: profileID.String(), CapturedAt: now}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.Snapshot{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE profiles SET status = $1, last_error = '', last_captured_at = $2, updated_at = $2 WHERE id = $3`,
		string(models.StatusCompleted), now, profileID)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("append: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Snapshot{}, store.ErrNotFound
	}

	err = tx.QueryRow(ctx, `INSERT INTO snapshots (id, profile_id, version, payload, captured_at)
		SELECT $1::uuid, $2::uuid, COALESCE(MAX(version), 0) + 1, $3::jsonb, $4::timestamptz FROM snapshots WHERE profile_id = $2::uuid
		RETURNING version`, snapID, profileID, body, now).Scan(&snap.Version)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("append: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Snapshot{}, fmt.Errorf("append: %w", err)
	}
	return snap, nil
}

func (s *Store) Latest(ctx context.Context, profileID string) (models.Snapshot, bool, error) {
	snaps, err := s.History(ctx, profileID, 1)
	if err != nil || len(snaps) == 0 {
		return models.Snapshot{}, false, err
	}
	return snaps[0], true, nil
}

// History lists snapshots newest first. limit <= 0 means all.
func (s *Store) History(ctx context.Context, profileID string, limit int) ([]models.Snapshot, error) {
	id, err := uuid.Parse(profileID)
	if err != nil {
		return nil, nil
	}
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `SELECT id::text, profile_id::text, version, payload, captured_at
		FROM snapshots WHERE profile_id = $1 ORDER BY version DESC LIMIT $2`, id, lim)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var out []models.Snapshot
	for rows.Next() {
		var (
			snap models.Snapshot
			body []byte
		)
		if err := rows.Scan(&snap.ID, &snap.ProfileID, &snap.Version, &body, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		if err := json.Unmarshal(body, &snap.Payload); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
