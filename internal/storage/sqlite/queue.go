package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dkeye/Livecall/internal/domain"
)

const queueColumns = `id, creator_id, fan_id, fan_name, fan_state, created_at, updated_at`

func scanQueueEntry(row rowScanner) (domain.QueueEntry, error) {
	var (
		e                domain.QueueEntry
		state            string
		created, updated int64
	)
	if err := row.Scan(&e.ID, &e.CreatorID, &e.FanID, &e.FanName, &state, &created, &updated); err != nil {
		return domain.QueueEntry{}, err
	}
	e.FanState = domain.FanState(state)
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	return e, nil
}

// JoinQueue puts fan in creator's queue as waiting. Joining again returns the
// existing entry; a declined fan rejoins as waiting.
func (s *Store) JoinQueue(ctx context.Context, creatorID, fanID domain.UserID) (domain.QueueEntry, error) {
	if creatorID == fanID {
		return domain.QueueEntry{}, domain.ErrForbidden
	}
	now := toMillis(s.now())
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO queue_entries (id, creator_id, fan_id, fan_name, fan_state, created_at, updated_at)
		 SELECT ?, ?, u.id, u.username, ?, ?, ? FROM users u WHERE u.id = ?
		 ON CONFLICT (creator_id, fan_id) DO UPDATE SET fan_state = excluded.fan_state, updated_at = excluded.updated_at
		 WHERE queue_entries.fan_state = ?`,
		uuid.NewString(), string(creatorID), string(domain.FanWaiting), now, now, string(fanID),
		string(domain.FanDeclined),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.QueueEntry{}, domain.ErrNotFound
		}
		return domain.QueueEntry{}, fmt.Errorf("join queue: %w", err)
	}
	e, err := scanQueueEntry(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE creator_id = ? AND fan_id = ?`,
		string(creatorID), string(fanID),
	))
	if errors.Is(err, sql.ErrNoRows) {
		// The INSERT selected nothing: the fan has no user row.
		return domain.QueueEntry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.QueueEntry{}, fmt.Errorf("join queue: %w", err)
	}
	return e, nil
}

func (s *Store) GetQueueEntry(ctx context.Context, id domain.QueueEntryID) (domain.QueueEntry, error) {
	e, err := scanQueueEntry(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE id = ?`, string(id),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QueueEntry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.QueueEntry{}, fmt.Errorf("get queue entry: %w", err)
	}
	return e, nil
}

// SetFanState moves an entry through the consent flow. The creator may only
// ask for consent; every other move belongs to the fan.
func (s *Store) SetFanState(ctx context.Context, caller domain.UserID, id domain.QueueEntryID, next domain.FanState) (domain.QueueEntry, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QueueEntry{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := scanQueueEntry(tx.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE id = ?`, string(id),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QueueEntry{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.QueueEntry{}, fmt.Errorf("load queue entry: %w", err)
	}
	switch {
	case caller == e.CreatorID && next == domain.FanAwaitingConsent:
	case caller == e.FanID && next != domain.FanAwaitingConsent:
	default:
		return domain.QueueEntry{}, domain.ErrForbidden
	}
	if !e.FanState.CanMoveTo(next) {
		return domain.QueueEntry{}, domain.ErrInvalidTransition
	}

	now := s.now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE queue_entries SET fan_state = ?, updated_at = ? WHERE id = ?`,
		string(next), toMillis(now), string(id),
	); err != nil {
		return domain.QueueEntry{}, fmt.Errorf("update fan state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.QueueEntry{}, fmt.Errorf("commit: %w", err)
	}
	e.FanState = next
	e.UpdatedAt = now
	return e, nil
}

// ListQueue returns creator's queue in arrival order.
func (s *Store) ListQueue(ctx context.Context, creatorID domain.UserID) ([]domain.QueueEntry, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE creator_id = ? ORDER BY created_at, id`,
		string(creatorID),
	)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var out []domain.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountQueue counts fans still waiting for creator: everyone not declined
// and not already in a call.
func (s *Store) CountQueue(ctx context.Context, creatorID domain.UserID) (int, error) {
	var n int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE creator_id = ? AND fan_state NOT IN (?, ?)`,
		string(creatorID), string(domain.FanDeclined), string(domain.FanInCall),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

// LeaveQueue removes the fan's entry unless it is in a call.
func (s *Store) LeaveQueue(ctx context.Context, fanID domain.UserID, id domain.QueueEntryID) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM queue_entries WHERE id = ? AND fan_id = ? AND fan_state <> ?`,
		string(id), string(fanID), string(domain.FanInCall),
	)
	if err != nil {
		return fmt.Errorf("leave queue: %w", err)
	}
	return expectOne(res)
}
