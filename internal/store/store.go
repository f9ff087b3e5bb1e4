package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/example/fortify/internal/logging"
	"github.com/example/fortify/internal/models"
)

// ErrNotFound is returned for unknown profiles.
var ErrNotFound = errors.New("not found")

// MaxVersionAttempts bounds how often Append retries after losing a race for
// the next version number.
const MaxVersionAttempts = 5

// Store keeps profiles and their snapshot history in SQLite. Snapshots are
// insert-only; nothing in this package updates or deletes one.
type Store struct {
	db  *sql.DB
	log *logging.Logger
}

func Open(path string, log *logging.Logger) (*Store, error) {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serializes them anyway.
	db.SetMaxOpenConns(1)
	if log == nil {
		log = logging.Discard()
	}
	return &Store{db: db, log: log.With("module", "store")}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Migrate(ctx context.Context) error {
	stmt := `
CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	target_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	profile_url TEXT NOT NULL,
	status TEXT NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	last_captured_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(target_id, platform)
);
CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL REFERENCES profiles(id),
	version INTEGER NOT NULL,
	payload TEXT NOT NULL,
	captured_at DATETIME NOT NULL,
	UNIQUE(profile_id, version)
);
`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// EnsureProfile creates the profile for (targetID, platform) or points the
// existing one at profileURL. Either way it is left in_progress.
func (s *Store) EnsureProfile(ctx context.Context, targetID string, platform models.Platform, profileURL string) (models.Profile, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO profiles (id, target_id, platform, profile_url, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target_id, platform) DO UPDATE SET
		profile_url=excluded.profile_url,
		status=excluded.status,
		last_error='',
		updated_at=excluded.updated_at
	`, uuid.NewString(), targetID, string(platform), profileURL, string(models.StatusInProgress), now, now)
	if err != nil {
		return models.Profile{}, fmt.Errorf("ensure profile: %w", err)
	}
	return s.ProfileByTarget(ctx, targetID, platform)
}

func (s *Store) MarkFailed(ctx context.Context, profileID, reason string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(models.StatusFailed), reason, time.Now().UTC(), profileID)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const profileCols = `id, target_id, platform, profile_url, status, last_error, last_captured_at, created_at, updated_at`

func (s *Store) Profile(ctx context.Context, id string) (models.Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = ?`, id))
}

func (s *Store) ProfileByTarget(ctx context.Context, targetID string, platform models.Platform) (models.Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileCols+` FROM profiles WHERE target_id = ? AND platform = ?`, targetID, string(platform)))
}

func scanProfile(row *sql.Row) (models.Profile, error) {
	var (
		p        models.Profile
		platform string
		status   string
		captured sql.NullTime
	)
	err := row.Scan(&p.ID, &p.TargetID, &platform, &p.ProfileURL, &status, &p.LastError, &captured, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrNotFound
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("scan profile: %w", err)
	}
	p.Platform = models.Platform(platform)
	p.Status = models.ProfileStatus(status)
	if captured.Valid {
		t := captured.Time
		p.LastCapturedAt = &t
	}
	return p, nil
}

// Append stores payload as the next version of profileID and marks the
// profile completed in the same transaction.
func (s *Store) Append(ctx context.Context, profileID string, payload models.Payload) (models.Snapshot, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("encode payload: %w", err)
	}
	for attempt := 1; ; attempt++ {
		snap, err := s.appendOnce(ctx, profileID, body)
		if err == nil {
			snap.Payload = payload.Clone()
			return snap, nil
		}
		if !isUniqueViolation(err) || attempt == MaxVersionAttempts {
			return models.Snapshot{}, err
		}
		s.log.Debug("version conflict, retrying", "profile_id", profileID, "attempt", attempt)
	}
}

func (s *Store) appendOnce(ctx context.Context, profileID string, body []byte) (models.Snapshot, error) {
	now := time.Now().UTC()
	snap := models.Snapshot{ID: uuid.NewString(), ProfileID: profileID, CapturedAt: now}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Snapshot{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE profiles SET status = ?, last_error = '', last_captured_at = ?, updated_at = ? WHERE id = ?`,
		string(models.StatusCompleted), now, now, profileID)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("append: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Snapshot{}, ErrNotFound
	}

	err = tx.QueryRowContext(ctx, `INSERT INTO snapshots (id, profile_id, version, payload, captured_at)
		SELECT ?, ?, COALESCE(MAX(version), 0) + 1, ?, ? FROM snapshots WHERE profile_id = ?
		RETURNING version`, snap.ID, profileID, string(body), now, profileID).Scan(&snap.Version)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("append: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Snapshot{}, fmt.Errorf("append: %w", err)
	}
	return snap, nil
}

// Latest returns the highest version, or false when nothing was captured yet.
func (s *Store) Latest(ctx context.Context, profileID string) (models.Snapshot, bool, error) {
	snaps, err := s.History(ctx, profileID, 1)
	if err != nil || len(snaps) == 0 {
		return models.Snapshot{}, false, err
	}
	return snaps[0], true, nil
}

// History lists snapshots newest first. limit <= 0 means all.
func (s *Store) History(ctx context.Context, profileID string, limit int) ([]models.Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, profile_id, version, payload, captured_at
		FROM snapshots WHERE profile_id = ? ORDER BY version DESC LIMIT ?`, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()
	var out []models.Snapshot
	for rows.Next() {
		var (
			snap models.Snapshot
			body string
		)
		if err := rows.Scan(&snap.ID, &snap.ProfileID, &snap.Version, &body, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &snap.Payload); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
