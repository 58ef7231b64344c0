package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dkeye/Livecall/internal/domain"
)

const inviteColumns = `id, session_id, invitee_id, status, creator_name, creator_avatar, created_at, expires_at`

func scanInvite(row rowScanner) (domain.SessionInvite, error) {
	var (
		inv              domain.SessionInvite
		status           string
		created, expires int64
	)
	if err := row.Scan(&inv.ID, &inv.SessionID, &inv.InviteeID, &status, &inv.CreatorName, &inv.CreatorAvatar, &created, &expires); err != nil {
		return domain.SessionInvite{}, err
	}
	inv.Status = domain.InviteStatus(status)
	inv.CreatedAt = fromMillis(created)
	inv.ExpiresAt = fromMillis(expires)
	return inv, nil
}

// PendingInvite returns the newest unexpired pending invite for invitee.
func (s *Store) PendingInvite(ctx context.Context, invitee domain.UserID) (domain.SessionInvite, bool, error) {
	inv, err := scanInvite(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM session_invites
		 WHERE invitee_id = ? AND status = ? AND expires_at > ?
		 ORDER BY created_at DESC LIMIT 1`,
		string(invitee), string(domain.InvitePending), toMillis(s.now()),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionInvite{}, false, nil
	}
	if err != nil {
		return domain.SessionInvite{}, false, fmt.Errorf("pending invite: %w", err)
	}
	return inv, true, nil
}

// UpdateInviteStatus answers a pending invite addressed to caller.
func (s *Store) UpdateInviteStatus(ctx context.Context, caller domain.UserID, id domain.InviteID, status domain.InviteStatus) (domain.SessionInvite, error) {
	if status != domain.InviteAccepted && status != domain.InviteDeclined {
		return domain.SessionInvite{}, domain.ErrInvalidTransition
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SessionInvite{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inv, err := scanInvite(tx.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM session_invites WHERE id = ?`, string(id),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionInvite{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SessionInvite{}, fmt.Errorf("load invite: %w", err)
	}
	if inv.InviteeID != caller {
		return domain.SessionInvite{}, domain.ErrForbidden
	}
	if inv.Status == status {
		return inv, nil
	}
	if inv.Status != domain.InvitePending || inv.Expired(s.now()) {
		return domain.SessionInvite{}, domain.ErrInviteNotPending
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE session_invites SET status = ? WHERE id = ?`, string(status), string(id),
	); err != nil {
		return domain.SessionInvite{}, fmt.Errorf("update invite: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.SessionInvite{}, fmt.Errorf("commit: %w", err)
	}
	inv.Status = status
	return inv, nil
}

// ExpireInvites marks pending invites past their deadline as expired.
func (s *Store) ExpireInvites(ctx context.Context) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE session_invites SET status = ? WHERE status = ? AND expires_at <= ?`,
		string(domain.InviteExpired), string(domain.InvitePending), toMillis(s.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("expire invites: %w", err)
	}
	return res.RowsAffected()
}
