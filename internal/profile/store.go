package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrCorrupt indicates a stored profile blob that could not be decoded
// even with per-field defaulting.
var ErrCorrupt = errors.New("profile blob is corrupt")

// Store persists user profiles as keyed JSON blobs in SQLite.
//
// The blob schema evolves: unknown stored fields are ignored and
// missing fields take their declared defaults, so old and new binaries
// can share a database. Every Get and Save round-trips storage; there
// is no cache, so callers control consistency by call order.
type Store struct {
	db              *sql.DB
	defaultLanguage string
	logger          *slog.Logger
	now             func() time.Time
}

// NewStore creates a profile store, running migrations on first use.
// defaultLanguage seeds ReplyLanguage for profiles created without a
// usable locale hint.
func NewStore(db *sql.DB, defaultLanguage string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultLanguage == "" {
		defaultLanguage = "English"
	}
	s := &Store{
		db:              db,
		defaultLanguage: defaultLanguage,
		logger:          logger,
		now:             time.Now,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate profiles: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS user_profiles (
			user_id INTEGER PRIMARY KEY,
			data    TEXT NOT NULL
		)
	`)
	return err
}

// Get returns the stored profile for userID. If none exists, a fresh
// profile is built from defaults, its reply language seeded from
// localeHint (consulted only on this first creation), persisted, and
// returned. Persisting before returning keeps a concurrent first read
// from producing two divergent defaults.
func (s *Store) Get(ctx context.Context, userID int64, localeHint string) (UserProfile, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM user_profiles WHERE user_id = ?`, userID,
	).Scan(&blob)

	switch {
	case err == sql.ErrNoRows:
		p := newDefault(userID, ResolveLanguage(localeHint, s.defaultLanguage), s.now().UTC())
		if err := s.Save(ctx, p); err != nil {
			return UserProfile{}, fmt.Errorf("persist new profile: %w", err)
		}
		s.logger.Info("created default profile",
			"user_id", userID,
			"reply_language", p.ReplyLanguage,
		)
		return p, nil
	case err != nil:
		return UserProfile{}, fmt.Errorf("get profile: %w", err)
	}

	p, err := s.decode(userID, []byte(blob))
	if err != nil {
		return UserProfile{}, err
	}
	return p, nil
}

// Save upserts the profile under its user ID, stamping UpdatedAt.
func (s *Store) Save(ctx context.Context, p UserProfile) error {
	p.UpdatedAt = s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}

	blob, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, data) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data
	`, p.UserID, string(blob))
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}

	s.logger.Debug("saved profile", "user_id", p.UserID)
	return nil
}

// decode rebuilds a profile from a stored blob. Each known field is
// decoded independently: a field of the wrong shape falls back to its
// default instead of failing the whole record. Only a blob that is not
// a JSON object at all is ErrCorrupt.
func (s *Store) decode(userID int64, blob []byte) (UserProfile, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(blob, &fields); err != nil {
		return UserProfile{}, fmt.Errorf("%w: user %d: %v", ErrCorrupt, userID, err)
	}

	now := s.now().UTC()
	p := newDefault(userID, s.defaultLanguage, now)

	coerced := false
	field := func(key string, dst any) {
		raw, ok := fields[key]
		if !ok {
			return
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			coerced = true
			s.logger.Warn("profile field has wrong shape, using default",
				"user_id", userID,
				"field", key,
				"error", err,
			)
		}
	}

	field("name", &p.Name)
	field("created_at", &p.CreatedAt)
	field("updated_at", &p.UpdatedAt)
	field("reply_language", &p.ReplyLanguage)
	field("confirmation_mode", &p.ConfirmationMode)
	field("movie_quality", &p.MovieQuality)
	field("series_quality", &p.SeriesQuality)
	field("notes", &p.Notes)
	field("stats", &p.Stats)

	// Re-default values a wrong-shape decode may have zeroed.
	if p.ReplyLanguage == "" {
		p.ReplyLanguage = s.defaultLanguage
	}
	if p.ConfirmationMode != ConfirmAlways && p.ConfirmationMode != ConfirmNever {
		p.ConfirmationMode = ConfirmAlways
	}
	if p.MovieQuality != Quality4K && p.MovieQuality != Quality1080p {
		p.MovieQuality = QualityUnset
	}
	if p.SeriesQuality != Quality4K && p.SeriesQuality != Quality1080p {
		p.SeriesQuality = QualityUnset
	}
	if p.Notes == nil {
		p.Notes = []string{}
	}
	if p.Stats == nil {
		p.Stats = defaultStats()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.Before(p.CreatedAt) {
		p.UpdatedAt = p.CreatedAt
	}

	if coerced {
		s.logger.Info("profile decoded with defaulted fields", "user_id", userID)
	}
	return p, nil
}
