// Package participant composes the per-participant coordinator: session
// phases, media, publishing, presence and the queue-to-session handoff.
// A Runtime is built explicitly for one page context and Reset between
// contexts; nothing here is process-global.
package participant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/app/fsm"
	"github.com/dkeye/Livecall/internal/app/handoff"
	"github.com/dkeye/Livecall/internal/app/media"
	"github.com/dkeye/Livecall/internal/app/presence"
	"github.com/dkeye/Livecall/internal/app/publish"
	"github.com/dkeye/Livecall/internal/core"
	"github.com/dkeye/Livecall/internal/domain"
)

const queueCountTask = "queue-count"

// SessionEnder ends a session server-side.
type SessionEnder interface {
	EndSession(ctx context.Context, id domain.SessionID) error
}

// QueueCounter reports how many fans wait in the caller's queue.
type QueueCounter interface {
	QueueCount(ctx context.Context) (int, error)
}

// Backend is everything the runtime needs from the server.
type Backend interface {
	handoff.SessionCreator
	handoff.InviteFeed
	handoff.InviteStore
	presence.Reporter
	SessionEnder
	QueueCounter
}

type Timing struct {
	HeartbeatPeriod time.Duration
	TeardownGuard   time.Duration
	NavigationDelay time.Duration
	TransitionGrace time.Duration
	ProcessedCap    int
}

type Deps struct {
	Me         domain.UserID
	Role       domain.Role
	Backend    Backend
	Devices    core.DeviceSource
	Transports core.TransportFactory
	Nav        handoff.Navigator
	Notifier   handoff.Notifier
	Clock      clock.Clock
	Timing     Timing
}

// Runtime is one participant's coordinator. Its components are exported for
// inspection; use the methods to drive them.
type Runtime struct {
	deps Deps

	mu        sync.Mutex
	Machine   *fsm.Machine
	Media     *media.Registry
	Publisher *publish.Guard
	Heartbeat *presence.Service
	creator   *handoff.Creator
	consumer  *handoff.Consumer
	session   domain.SessionID

	// Suppress and Visibility survive Reset: they describe the page, not
	// the session.
	Suppress   *handoff.UnloadSuppressor
	Visibility *handoff.Gate

	queueCount atomic.Int64

	logger zerolog.Logger
}

func New(deps Deps) (*Runtime, error) {
	if !domain.ValidUserID(deps.Me) {
		return nil, domain.ErrUserIDInvalid
	}
	if !deps.Role.Valid() {
		return nil, errors.New("participant: invalid role")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	r := &Runtime{
		deps:       deps,
		Suppress:   &handoff.UnloadSuppressor{},
		Visibility: handoff.NewGate(true),
		logger:     log.With().Str("module", "app.participant").Str("user", string(deps.Me)).Str("role", string(deps.Role)).Logger(),
	}
	if err := r.build(); err != nil {
		return nil, err
	}
	return r, nil
}

// build must be called with r.mu held or before r is shared.
func (r *Runtime) build() error {
	d := r.deps
	r.Media = media.NewRegistry(media.Options{
		Devices:      d.Devices,
		Transports:   d.Transports,
		Clock:        d.Clock,
		GuardTimeout: d.Timing.TeardownGuard,
	})
	r.Machine = fsm.New(r.Media)
	r.Publisher = publish.NewGuard()
	r.Heartbeat = presence.NewService(d.Backend, presence.Options{Clock: d.Clock, Period: d.Timing.HeartbeatPeriod})
	r.creator = handoff.NewCreator(handoff.CreatorOptions{
		Sessions: d.Backend,
		Phases:   r.Machine,
		Nav:      d.Nav,
		Notifier: d.Notifier,
		Suppress: r.Suppress,
		Clock:    d.Clock,
		Grace:    d.Timing.TransitionGrace,
	})
	consumer, err := handoff.NewConsumer(handoff.ConsumerOptions{
		Me:           d.Me,
		Feed:         d.Backend,
		Invites:      d.Backend,
		Notifier:     d.Notifier,
		Nav:          d.Nav,
		Suppress:     r.Suppress,
		Visibility:   r.Visibility,
		Clock:        d.Clock,
		Delay:        d.Timing.NavigationDelay,
		ProcessedCap: d.Timing.ProcessedCap,
	})
	if err != nil {
		return err
	}
	r.consumer = consumer
	r.session = ""
	r.queueCount.Store(0)
	if d.Role == domain.RoleCreator {
		r.Heartbeat.RegisterTask(queueCountTask, r.refreshQueueCount)
	}
	return nil
}

// Reset releases local resources without network calls and replaces every
// component with a fresh instance.
func (r *Runtime) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Heartbeat.Cleanup()
	err := r.Media.Teardown(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("media teardown during reset")
	}
	r.Suppress.Reset()
	if berr := r.build(); berr != nil {
		return berr
	}
	r.logger.Info().Msg("runtime reset")
	return nil
}

func (r *Runtime) parts() (*fsm.Machine, *media.Registry, *publish.Guard, *presence.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Machine, r.Media, r.Publisher, r.Heartbeat
}

// GoLive makes the participant discoverable and starts the heartbeat.
func (r *Runtime) GoLive(ctx context.Context) error {
	m, _, _, hb := r.parts()
	if err := m.GoLive(); err != nil {
		return err
	}
	hb.Start(ctx, true)
	return nil
}

// GoOffline stops the heartbeat with a final offline update.
func (r *Runtime) GoOffline(ctx context.Context) error {
	m, _, _, hb := r.parts()
	if err := m.GoOffline(); err != nil {
		return err
	}
	hb.Stop(ctx)
	return nil
}

// StartSessionWith is the creator action on a queue entry.
func (r *Runtime) StartSessionWith(ctx context.Context, entry domain.QueueEntry) (domain.SessionID, error) {
	r.mu.Lock()
	c := r.creator
	r.mu.Unlock()
	return c.StartSession(ctx, entry)
}

// ListenForInvites runs the fan-side invite consumer until ctx ends or the
// feed fails.
func (r *Runtime) ListenForInvites(ctx context.Context) error {
	r.mu.Lock()
	c := r.consumer
	r.mu.Unlock()
	return c.Run(ctx)
}

// EnterSession brings the participant into a live call on the session page.
// It resumes from the current phase, so after a recoverable failure (device
// permission, publish error) calling it again retries the failed step.
// Publish failures are also passed to onPublishError.
func (r *Runtime) EnterSession(ctx context.Context, id domain.SessionID, onPublishError func(error)) error {
	m, reg, pub, _ := r.parts()
	r.mu.Lock()
	r.session = id
	r.mu.Unlock()
	logger := r.logger.With().Str("session", string(id)).Logger()

	err := r.enter(ctx, m, reg, pub, onPublishError)
	if err != nil {
		logger.Warn().Err(err).Str("phase", m.Phase().String()).Msg("enter session failed")
		r.notify(handoff.Notice{Kind: handoff.NoticeError, Title: "Couldn't join the session", Body: handoff.UserMessage(err)})
		return err
	}
	logger.Info().Msg("session active")
	return nil
}

func (r *Runtime) enter(ctx context.Context, m *fsm.Machine, reg *media.Registry, pub *publish.Guard, onPublishError func(error)) error {
	for {
		switch m.Phase() {
		case fsm.Offline:
			if err := r.GoLive(ctx); err != nil {
				return err
			}
		case fsm.Discoverable:
			if err := m.Prepare(); err != nil {
				return err
			}
		case fsm.SessionPrep:
			if err := m.Join(); err != nil {
				return err
			}
		case fsm.SessionJoining:
			stream, err := m.AcquireMedia(ctx, false)
			if err != nil {
				return err
			}
			if _, err := pub.Publish(ctx, stream, reg.Transport(), onPublishError); err != nil {
				return err
			}
			return m.Activate()
		case fsm.SessionActive:
			return nil
		default:
			return &fsm.TransitionError{From: m.Phase(), To: fsm.SessionActive}
		}
	}
}

// Preview opens the camera only, for the pre-join screen.
func (r *Runtime) Preview(ctx context.Context) (core.Stream, error) {
	m, _, _, _ := r.parts()
	return m.AcquireMedia(ctx, true)
}

// EndSession tears the call down locally, then ends it server-side.
func (r *Runtime) EndSession(ctx context.Context) error {
	m, _, pub, _ := r.parts()
	r.mu.Lock()
	id := r.session
	r.session = ""
	r.mu.Unlock()

	err := m.End(ctx, fsm.Discoverable)
	pub.Reset()
	if id != "" {
		if serr := r.deps.Backend.EndSession(ctx, id); serr != nil {
			r.logger.Warn().Err(serr).Str("session", string(id)).Msg("end session on server")
		}
	}
	return err
}

// ConfirmLeave reports whether leaving the page now must be confirmed.
func (r *Runtime) ConfirmLeave() bool {
	m, _, _, _ := r.parts()
	return m.ConfirmLeave()
}

// HandleUnload runs when the page goes away. Local media is always released.
// After a deliberate handoff redirect the server-side state is left alone
// and no network call is made.
func (r *Runtime) HandleUnload(ctx context.Context) {
	m, _, _, hb := r.parts()
	if r.Suppress.Suppressed() {
		hb.Cleanup()
		if m.Phase().InSession() {
			if err := m.End(ctx, fsm.Offline); err != nil {
				r.logger.Warn().Err(err).Msg("teardown on unload")
			}
		}
		r.logger.Debug().Msg("unload after handoff redirect")
		return
	}
	r.mu.Lock()
	id := r.session
	r.mu.Unlock()
	if err := m.Abort(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("abort on unload")
	}
	if id != "" {
		if err := r.deps.Backend.EndSession(ctx, id); err != nil {
			r.logger.Warn().Err(err).Str("session", string(id)).Msg("end session on unload")
		}
	}
	hb.Stop(ctx)
}

// SetVisible records page visibility; deferred invite navigation waits on it.
func (r *Runtime) SetVisible(visible bool) { r.Visibility.Set(visible) }

// QueueCount is the last value fetched by the heartbeat task.
func (r *Runtime) QueueCount() int { return int(r.queueCount.Load()) }

func (r *Runtime) refreshQueueCount(ctx context.Context) error {
	n, err := r.deps.Backend.QueueCount(ctx)
	if err != nil {
		return err
	}
	r.queueCount.Store(int64(n))
	return nil
}

func (r *Runtime) notify(n handoff.Notice) {
	if r.deps.Notifier != nil {
		r.deps.Notifier.Notify(n)
	}
}
