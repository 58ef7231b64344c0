package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dkeye/Livecall/internal/domain"
)

// EnsureUser returns the user with id, creating it with username when absent.
func (s *Store) EnsureUser(ctx context.Context, id domain.UserID, username string) (domain.User, error) {
	if !domain.ValidUserID(id) {
		return domain.User{}, domain.ErrUserIDInvalid
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		string(id), username, toMillis(s.now()),
	); err != nil {
		return domain.User{}, fmt.Errorf("ensure user: %w", err)
	}
	return s.GetUser(ctx, id)
}

func (s *Store) GetUser(ctx context.Context, id domain.UserID) (domain.User, error) {
	var u domain.User
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, username, avatar_url FROM users WHERE id = ?`, string(id),
	).Scan(&u.ID, &u.Username, &u.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// UpdateProfile sets the display name and avatar of an existing user.
func (s *Store) UpdateProfile(ctx context.Context, id domain.UserID, username, avatarURL string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE users SET username = ?, avatar_url = ? WHERE id = ?`,
		username, avatarURL, string(id),
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return expectOne(res)
}

// SetPresence records the online flag and refreshes last_seen_at.
func (s *Store) SetPresence(ctx context.Context, id domain.UserID, online bool) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE users SET is_online = ?, last_seen_at = ? WHERE id = ?`,
		online, toMillis(s.now()), string(id),
	)
	if err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return expectOne(res)
}

// Presence returns the stored online flag and last-seen time.
func (s *Store) Presence(ctx context.Context, id domain.UserID) (bool, int64, error) {
	var online bool
	var seen int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT is_online, last_seen_at FROM users WHERE id = ?`, string(id),
	).Scan(&online, &seen)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, domain.ErrNotFound
	}
	if err != nil {
		return false, 0, fmt.Errorf("presence: %w", err)
	}
	return online, seen, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
