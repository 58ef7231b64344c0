package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/Livecall/internal/domain"
)

// CreateSessionFromQueue is the atomic start of a call. Inside one
// transaction it checks that entryID belongs to creatorID and that the fan
// is ready, inserts the active session, moves the entry to in_call and
// inserts a pending invite for the fan that expires after ttl. Nothing is
// written when any step fails.
func (s *Store) CreateSessionFromQueue(ctx context.Context, creatorID domain.UserID, entryID domain.QueueEntryID, ttl time.Duration) (domain.Session, domain.SessionInvite, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, domain.SessionInvite{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	entry, err := scanQueueEntry(tx.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE id = ?`, string(entryID),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.SessionInvite{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Session{}, domain.SessionInvite{}, fmt.Errorf("load queue entry: %w", err)
	}
	if entry.CreatorID != creatorID {
		return domain.Session{}, domain.SessionInvite{}, domain.ErrForbidden
	}
	if err := entry.CheckReady(); err != nil {
		return domain.Session{}, domain.SessionInvite{}, err
	}

	var creatorName, creatorAvatar string
	if err := tx.QueryRowContext(ctx,
		`SELECT username, avatar_url FROM users WHERE id = ?`, string(creatorID),
	).Scan(&creatorName, &creatorAvatar); err != nil {
		return domain.Session{}, domain.SessionInvite{}, fmt.Errorf("load creator: %w", err)
	}

	now := s.now()
	sess := domain.Session{
		ID:        domain.SessionID(uuid.NewString()),
		CreatorID: creatorID,
		FanID:     entry.FanID,
		EntryID:   entry.ID,
		Status:    domain.SessionActive,
		CreatedAt: now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, creator_id, fan_id, queue_entry_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(sess.ID), string(sess.CreatorID), string(sess.FanID), string(sess.EntryID),
		string(sess.Status), toMillis(now),
	); err != nil {
		return domain.Session{}, domain.SessionInvite{}, fmt.Errorf("insert session: %w", err)
	}

	// The state guard makes a concurrent creation for the same entry lose.
	res, err := tx.ExecContext(ctx,
		`UPDATE queue_entries SET fan_state = ?, updated_at = ? WHERE id = ? AND fan_state = ?`,
		string(domain.FanInCall), toMillis(now), string(entry.ID), string(domain.FanReady),
	)
	if err != nil {
		return domain.Session{}, domain.SessionInvite{}, fmt.Errorf("update queue entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return domain.Session{}, domain.SessionInvite{}, &domain.NotReadyError{State: domain.FanInCall}
	}

	inv := domain.SessionInvite{
		ID:            domain.InviteID(uuid.NewString()),
		SessionID:     sess.ID,
		InviteeID:     entry.FanID,
		Status:        domain.InvitePending,
		CreatorName:   creatorName,
		CreatorAvatar: creatorAvatar,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_invites (id, session_id, invitee_id, status, creator_name, creator_avatar, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(inv.ID), string(inv.SessionID), string(inv.InviteeID), string(inv.Status),
		inv.CreatorName, inv.CreatorAvatar, toMillis(inv.CreatedAt), toMillis(inv.ExpiresAt),
	); err != nil {
		return domain.Session{}, domain.SessionInvite{}, fmt.Errorf("insert invite: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Session{}, domain.SessionInvite{}, fmt.Errorf("commit: %w", err)
	}
	return sess, inv, nil
}

const sessionColumns = `id, creator_id, fan_id, queue_entry_id, status, created_at, ended_at`

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		sess    domain.Session
		status  string
		created int64
		ended   sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &sess.CreatorID, &sess.FanID, &sess.EntryID, &status, &created, &ended); err != nil {
		return domain.Session{}, err
	}
	sess.Status = domain.SessionStatus(status)
	sess.CreatedAt = fromMillis(created)
	if ended.Valid {
		t := fromMillis(ended.Int64)
		sess.EndedAt = &t
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	sess, err := scanSession(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, string(id),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// EndSession marks the session ended, removes its queue entry and expires
// its unanswered invite. Either participant may end it; ending twice
// returns the already ended session.
func (s *Store) EndSession(ctx context.Context, caller domain.UserID, id domain.SessionID) (domain.Session, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, string(id),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	if caller != sess.CreatorID && caller != sess.FanID {
		return domain.Session{}, domain.ErrForbidden
	}
	if sess.Status == domain.SessionEnded {
		return sess, nil
	}

	now := s.now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
		string(domain.SessionEnded), toMillis(now), string(id),
	); err != nil {
		return domain.Session{}, fmt.Errorf("end session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM queue_entries WHERE id = ?`, string(sess.EntryID),
	); err != nil {
		return domain.Session{}, fmt.Errorf("remove queue entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE session_invites SET status = ? WHERE session_id = ? AND status = ?`,
		string(domain.InviteExpired), string(id), string(domain.InvitePending),
	); err != nil {
		return domain.Session{}, fmt.Errorf("expire invites: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, fmt.Errorf("commit: %w", err)
	}
	sess.Status = domain.SessionEnded
	sess.EndedAt = &now
	return sess, nil
}
