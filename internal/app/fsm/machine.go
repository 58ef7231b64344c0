// Package fsm tracks which session phase a participant is in and gates
// media operations on it.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/app/inflight"
	"github.com/dkeye/Livecall/internal/core"
)

var (
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrMediaNotReady is returned by Activate before media was initialized.
	ErrMediaNotReady = errors.New("media not initialized")
)

type TransitionError struct {
	From, To Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Media is the part of the media registry the machine drives.
type Media interface {
	Initialize(ctx context.Context, sp Phase, previewOnly bool) (core.Stream, error)
	Teardown(ctx context.Context) error
	Active() bool
	// Transport is nil unless a call (not a preview) holds media.
	Transport() core.Transport
}

var transitions = map[Phase][]Phase{
	Offline:        {Discoverable},
	Discoverable:   {Offline, SessionPrep},
	SessionPrep:    {SessionJoining, Teardown},
	SessionJoining: {SessionActive, Teardown},
	SessionActive:  {Teardown},
	Teardown:       {Discoverable, Offline},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Phase) bool {
	return slices.Contains(transitions[from], to)
}

type Listener func(from, to Phase)

// Machine is one participant's phase tracker.
type Machine struct {
	mu        sync.Mutex
	phase     Phase
	media     Media
	listeners []Listener
	endLock   inflight.Slot[struct{}]
	logger    zerolog.Logger
}

func New(media Media) *Machine {
	return &Machine{
		phase:  Offline,
		media:  media,
		logger: log.With().Str("module", "app.fsm").Logger(),
	}
}

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// OnTransition registers fn to be called after every phase change.
func (m *Machine) OnTransition(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Machine) transition(to Phase) error {
	m.mu.Lock()
	from := m.phase
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return &TransitionError{From: from, To: to}
	}
	m.phase = to
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	m.logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("phase")
	for _, fn := range listeners {
		fn(from, to)
	}
	return nil
}

func (m *Machine) GoLive() error    { return m.transition(Discoverable) }
func (m *Machine) GoOffline() error { return m.transition(Offline) }

// Prepare marks that a session is being prepared for this participant.
func (m *Machine) Prepare() error { return m.transition(SessionPrep) }

// Join records the explicit join/confirm action.
func (m *Machine) Join() error { return m.transition(SessionJoining) }

// AcquireMedia initializes devices for the current phase.
func (m *Machine) AcquireMedia(ctx context.Context, previewOnly bool) (core.Stream, error) {
	return m.media.Initialize(ctx, m.Phase(), previewOnly)
}

// Activate moves to SESSION_ACTIVE once call media with a transport is held.
// A preview alone is not enough.
func (m *Machine) Activate() error {
	if !m.media.Active() || m.media.Transport() == nil {
		return ErrMediaNotReady
	}
	return m.transition(SessionActive)
}

// End tears the session down and returns to next (DISCOVERABLE or OFFLINE).
// Media is always released before leaving TEARDOWN. Concurrent calls for the
// same next phase share one teardown. If ctx ends first the machine stays in
// TEARDOWN and End may be called again.
func (m *Machine) End(ctx context.Context, next Phase) error {
	if next != Discoverable && next != Offline {
		return &TransitionError{From: Teardown, To: next}
	}
	_, err := m.endLock.Do(ctx, next.String(), func() (struct{}, error) {
		return struct{}{}, m.end(ctx, next)
	})
	return err
}

func (m *Machine) end(ctx context.Context, next Phase) error {
	if m.Phase() != Teardown {
		if err := m.transition(Teardown); err != nil {
			return err
		}
	}

	if err := m.media.Teardown(ctx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("teardown: %w", err)
		}
		// Release errors do not keep resources held; the registry is idle.
		m.logger.Warn().Err(err).Msg("teardown reported errors")
	}
	return m.transition(next)
}

// Abort handles an abnormal exit such as the page being closed. Any session
// phase is torn down; a live participant goes offline.
func (m *Machine) Abort(ctx context.Context) error {
	switch m.Phase() {
	case SessionPrep, SessionJoining, SessionActive, Teardown:
		return m.End(ctx, Offline)
	case Discoverable:
		return m.GoOffline()
	}
	return nil
}

// ConfirmLeave reports whether leaving now needs an explicit confirmation
// because a live session would be orphaned.
func (m *Machine) ConfirmLeave() bool {
	return m.Phase() == SessionActive
}
