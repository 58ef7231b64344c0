package orch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/domain"
)

// PendingInvite is the cold-start query: the newest unexpired pending
// invite addressed to caller.
func (o *Orchestrator) PendingInvite(ctx context.Context, caller domain.UserID) (domain.SessionInvite, bool, error) {
	return o.Store.PendingInvite(ctx, caller)
}

// AnswerInvite records the invitee's answer to a pending invite.
func (o *Orchestrator) AnswerInvite(ctx context.Context, caller domain.UserID, id domain.InviteID, status domain.InviteStatus) (domain.SessionInvite, error) {
	inv, err := o.Store.UpdateInviteStatus(ctx, caller, id, status)
	if err != nil {
		return domain.SessionInvite{}, err
	}
	log.Info().Str("module", "app.orch").Str("user", string(caller)).Str("invite", string(id)).Str("status", string(status)).Msg("invite answered")
	return inv, nil
}

// SweepExpired marks overdue pending invites expired.
func (o *Orchestrator) SweepExpired(ctx context.Context) (int64, error) {
	n, err := o.Store.ExpireInvites(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		invitesExpiredTotal.Add(float64(n))
		log.Info().Str("module", "app.orch").Int64("count", n).Msg("invites expired")
	}
	return n, nil
}

// RunSweeper calls SweepExpired every period until ctx ends.
func (o *Orchestrator) RunSweeper(ctx context.Context, period time.Duration) error {
	ticker := o.clock().Ticker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := o.SweepExpired(ctx); err != nil {
				log.Warn().Err(err).Str("module", "app.orch").Msg("invite sweep failed")
			}
		}
	}
}
