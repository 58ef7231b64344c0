package orch

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/domain"
)

// CreateSession starts a session for the fan behind entryID and pushes the
// invite to the fan. It fails with *domain.NotReadyError when the fan is
// not ready and with domain.ErrRateLimited when creator is too fast.
func (o *Orchestrator) CreateSession(ctx context.Context, creator domain.UserID, entryID domain.QueueEntryID) (domain.Session, error) {
	logger := log.With().Str("module", "app.orch").Str("user", string(creator)).Str("entry", string(entryID)).Logger()
	if o.Limiter != nil && !o.Limiter.Allow(creator) {
		sessionsTotal.WithLabelValues("rate_limited").Inc()
		logger.Warn().Msg("session creation rate limited")
		return domain.Session{}, domain.ErrRateLimited
	}

	sess, inv, err := o.Store.CreateSessionFromQueue(ctx, creator, entryID, o.inviteTTL())
	if err != nil {
		var notReady *domain.NotReadyError
		switch {
		case errors.As(err, &notReady):
			sessionsTotal.WithLabelValues(string(notReady.State)).Inc()
			logger.Info().Str("fan_state", string(notReady.State)).Msg("fan not ready")
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrForbidden):
			sessionsTotal.WithLabelValues("rejected").Inc()
			logger.Info().Err(err).Msg("session creation rejected")
		default:
			sessionsTotal.WithLabelValues("error").Inc()
			logger.Error().Err(err).Msg("session creation failed")
		}
		return domain.Session{}, err
	}
	sessionsTotal.WithLabelValues("created").Inc()
	logger.Info().Str("session", string(sess.ID)).Str("invite", string(inv.ID)).Msg("session created")

	o.pushInvite(inv)
	return sess, nil
}

// Session returns a session visible to caller.
func (o *Orchestrator) Session(ctx context.Context, caller domain.UserID, id domain.SessionID) (domain.Session, error) {
	sess, err := o.Store.GetSession(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if caller != sess.CreatorID && caller != sess.FanID {
		return domain.Session{}, domain.ErrForbidden
	}
	return sess, nil
}

// EndSession ends the session for both participants. It is idempotent.
func (o *Orchestrator) EndSession(ctx context.Context, caller domain.UserID, id domain.SessionID) (domain.Session, error) {
	sess, err := o.Store.EndSession(ctx, caller, id)
	if err != nil {
		return domain.Session{}, err
	}
	log.Info().Str("module", "app.orch").Str("user", string(caller)).Str("session", string(id)).Msg("session ended")
	return sess, nil
}
