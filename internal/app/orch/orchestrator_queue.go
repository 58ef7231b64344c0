package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/domain"
)

// JoinQueue puts caller in creator's queue.
func (o *Orchestrator) JoinQueue(ctx context.Context, caller, creator domain.UserID) (domain.QueueEntry, error) {
	if _, err := o.Store.EnsureUser(ctx, caller, guestName); err != nil {
		return domain.QueueEntry{}, err
	}
	e, err := o.Store.JoinQueue(ctx, creator, caller)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	log.Info().Str("module", "app.orch").Str("user", string(caller)).Str("creator", string(creator)).Str("entry", string(e.ID)).Msg("joined queue")
	return e, nil
}

func (o *Orchestrator) SetFanState(ctx context.Context, caller domain.UserID, id domain.QueueEntryID, next domain.FanState) (domain.QueueEntry, error) {
	if !next.Valid() {
		return domain.QueueEntry{}, domain.ErrInvalidTransition
	}
	e, err := o.Store.SetFanState(ctx, caller, id, next)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	log.Info().Str("module", "app.orch").Str("user", string(caller)).Str("entry", string(id)).Str("fan_state", string(next)).Msg("fan state")
	return e, nil
}

func (o *Orchestrator) Queue(ctx context.Context, creator domain.UserID) ([]domain.QueueEntry, error) {
	return o.Store.ListQueue(ctx, creator)
}

func (o *Orchestrator) QueueCount(ctx context.Context, creator domain.UserID) (int, error) {
	return o.Store.CountQueue(ctx, creator)
}

func (o *Orchestrator) LeaveQueue(ctx context.Context, caller domain.UserID, id domain.QueueEntryID) error {
	return o.Store.LeaveQueue(ctx, caller, id)
}
