// Package handoff moves a fan from a creator's queue into a live session:
// the creator side asks the server to create the session atomically, the
// fan side consumes the resulting invite exactly once.
package handoff

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/domain"
)

const DefaultTransitionGrace = 100 * time.Millisecond

// SessionCreator is the atomic server-side creation operation. It fails with
// *domain.NotReadyError when the fan is not ready.
type SessionCreator interface {
	CreateSessionFromQueue(ctx context.Context, entryID domain.QueueEntryID) (domain.SessionID, error)
}

// Navigator performs a full page-level redirect.
type Navigator interface {
	Redirect(url string)
}

// Preparer is the FSM edge taken once the server confirmed the session.
type Preparer interface {
	Prepare() error
}

type CreatorOptions struct {
	Sessions SessionCreator
	Phases   Preparer
	Nav      Navigator
	Notifier Notifier
	Suppress *UnloadSuppressor
	Clock    clock.Clock
	// Grace lets the transition notice render before navigating.
	Grace time.Duration
}

type Creator struct {
	opts   CreatorOptions
	logger zerolog.Logger
}

func NewCreator(opts CreatorOptions) *Creator {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultTransitionGrace
	}
	if opts.Suppress == nil {
		opts.Suppress = &UnloadSuppressor{}
	}
	return &Creator{opts: opts, logger: log.With().Str("module", "app.handoff").Str("side", "creator").Logger()}
}

// StartSession starts a call with the fan behind entry. The local readiness
// check is advisory; the server call decides. On success the creator is
// redirected to the session page.
func (c *Creator) StartSession(ctx context.Context, entry domain.QueueEntry) (domain.SessionID, error) {
	logger := c.logger.With().Str("entry", string(entry.ID)).Str("fan", string(entry.FanID)).Logger()

	if err := entry.CheckReady(); err != nil {
		logger.Info().Str("fan_state", string(entry.FanState)).Msg("start rejected locally")
		c.fail(err)
		return "", err
	}

	id, err := c.opts.Sessions.CreateSessionFromQueue(ctx, entry.ID)
	if err != nil {
		var notReady *domain.NotReadyError
		if errors.As(err, &notReady) {
			logger.Info().Str("fan_state", string(notReady.State)).Msg("start rejected by server")
		} else {
			logger.Error().Err(err).Msg("create session failed")
		}
		c.fail(err)
		return "", err
	}
	startsTotal.WithLabelValues("ok").Inc()
	logger = logger.With().Str("session", string(id)).Logger()

	if err := c.opts.Phases.Prepare(); err != nil {
		// The session exists server-side; the session page starts from a
		// clean runtime, so the redirect still goes ahead.
		logger.Warn().Err(err).Msg("prepare phase")
	}
	c.notify(Notice{Kind: NoticeSuccess, Title: "Starting session", Body: "Connecting you with " + entry.FanName + "…"})

	select {
	case <-c.opts.Clock.After(c.opts.Grace):
	case <-ctx.Done():
		return id, ctx.Err()
	}

	c.opts.Suppress.Suppress()
	url := SessionRoute(id, domain.RoleCreator)
	logger.Info().Str("url", url).Msg("redirecting to session")
	c.opts.Nav.Redirect(url)
	return id, nil
}

func (c *Creator) fail(err error) {
	var notReady *domain.NotReadyError
	if errors.As(err, &notReady) {
		startsTotal.WithLabelValues(string(notReady.State)).Inc()
	} else {
		startsTotal.WithLabelValues("error").Inc()
	}
	c.notify(Notice{Kind: NoticeError, Title: "Couldn't start the session", Body: UserMessage(err)})
}

func (c *Creator) notify(n Notice) {
	if c.opts.Notifier != nil {
		c.opts.Notifier.Notify(n)
	}
}
