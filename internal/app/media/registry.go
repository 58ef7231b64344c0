// Package media owns the local camera, microphone and transport of one
// participant runtime.
package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/dkeye/Livecall/internal/app/fsm"
	"github.com/dkeye/Livecall/internal/app/inflight"
	"github.com/dkeye/Livecall/internal/core"
)

const DefaultGuardTimeout = 5 * time.Second

const endKey = "teardown"

type Options struct {
	Devices    core.DeviceSource
	Transports core.TransportFactory
	Clock      clock.Clock
	// GuardTimeout bounds how long the registry may stay in Ending.
	GuardTimeout time.Duration
}

// Registry records which media resources the participant holds.
// All mutation is serialized through initLock and endLock.
type Registry struct {
	devices      core.DeviceSource
	transports   core.TransportFactory
	clock        clock.Clock
	guardTimeout time.Duration

	mu          sync.Mutex
	phase       Phase
	stream      core.Stream
	transport   core.Transport
	previewOnly bool
	gen         uint64
	guard       *clock.Timer

	initLock inflight.Slot[core.Stream]
	endLock  inflight.Slot[struct{}]
	// overtaken holds what an init opened after a teardown began, keyed by
	// the init call the teardown waits on.
	overtaken map[*inflight.Call[core.Stream]]held

	logger zerolog.Logger
}

func NewRegistry(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.GuardTimeout <= 0 {
		opts.GuardTimeout = DefaultGuardTimeout
	}
	return &Registry{
		devices:      opts.Devices,
		transports:   opts.Transports,
		clock:        opts.Clock,
		guardTimeout: opts.GuardTimeout,
		overtaken:    make(map[*inflight.Call[core.Stream]]held),
		logger:       log.With().Str("module", "app.media").Logger(),
	}
}

func (r *Registry) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Active reports whether devices are held and live.
func (r *Registry) Active() bool { return r.Phase() == Active }

// Stream returns the held stream, or nil when idle.
func (r *Registry) Stream() core.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream
}

// Transport returns the held transport, or nil when idle or preview-only.
func (r *Registry) Transport() core.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transport
}

func initKey(previewOnly bool) string {
	if previewOnly {
		return "preview"
	}
	return "call"
}

// Initialize acquires the camera (and microphone plus transport unless
// previewOnly). Concurrent calls with the same arguments share one
// acquisition and receive the same stream. A call init while a preview is
// held replaces the preview; a preview init while a call is held returns the
// call stream.
func (r *Registry) Initialize(ctx context.Context, sp fsm.Phase, previewOnly bool) (core.Stream, error) {
	key := initKey(previewOnly)
	for {
		r.mu.Lock()
		if !CanInitMedia(sp, r.phase) {
			mp := r.phase
			r.mu.Unlock()
			return nil, &BlockedError{SessionPhase: sp, MediaPhase: mp}
		}
		if r.phase == Active {
			stream, heldPreview := r.stream, r.previewOnly
			r.mu.Unlock()
			// A call stream already carries the camera a preview needs.
			if !heldPreview || previewOnly {
				return stream, nil
			}
			r.logger.Info().Str("stream", stream.ID()).Msg("upgrading preview to call")
			if err := r.Teardown(ctx); err != nil {
				return nil, err
			}
			continue
		}

		c, owned, err := r.initLock.Acquire(key)
		if errors.Is(err, inflight.ErrBusy) {
			r.mu.Unlock()
			select {
			case <-c.Done():
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if !owned {
			r.mu.Unlock()
			return c.Wait(ctx)
		}
		gen := r.gen
		r.mu.Unlock()

		go r.runInit(context.WithoutCancel(ctx), c, gen, previewOnly)
		return c.Wait(ctx)
	}
}

func (r *Registry) runInit(ctx context.Context, c *inflight.Call[core.Stream], gen uint64, previewOnly bool) {
	stream, transport, err := r.open(ctx, previewOnly)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		acquisitionsTotal.WithLabelValues("failed").Inc()
		r.logger.Warn().Err(err).Bool("preview_only", previewOnly).Msg("media init failed")
		r.initLock.Release(c, nil, err)
		return
	}
	if r.gen != gen {
		// A teardown started while devices were being opened and waits on
		// this call; it releases what was opened, outside r.mu.
		acquisitionsTotal.WithLabelValues("torn_down").Inc()
		r.overtaken[c] = held{stream: stream, transport: transport}
		r.initLock.Release(c, nil, ErrTornDown)
		return
	}
	acquisitionsTotal.WithLabelValues("ok").Inc()
	r.stream = stream
	r.transport = transport
	r.previewOnly = previewOnly
	r.phase = Active
	r.logger.Info().Str("stream", stream.ID()).Int("tracks", len(stream.Tracks())).Bool("preview_only", previewOnly).Msg("media active")
	r.initLock.Release(c, stream, nil)
}

func (r *Registry) open(ctx context.Context, previewOnly bool) (core.Stream, core.Transport, error) {
	stream, err := r.devices.Acquire(ctx, core.DeviceRequest{Video: true, Audio: !previewOnly})
	if err != nil {
		return nil, nil, &AcquisitionError{Device: "camera/microphone", Err: err}
	}
	if previewOnly {
		return stream, nil, nil
	}
	transport, err := r.transports.NewTransport(ctx)
	if err != nil {
		_ = release(stream, nil)
		return nil, nil, &AcquisitionError{Device: "transport", Err: err}
	}
	return stream, transport, nil
}

// Teardown releases every held resource exactly once. Concurrent calls
// collapse into one operation. It is a no-op when nothing is held.
func (r *Registry) Teardown(ctx context.Context) error {
	r.mu.Lock()
	if c := r.endLock.Current(); c != nil {
		r.mu.Unlock()
		_, err := c.Wait(ctx)
		return err
	}
	pending := r.initLock.Current()
	if r.phase == Idle && pending == nil {
		r.mu.Unlock()
		return nil
	}
	c, _, _ := r.endLock.Acquire(endKey)
	r.phase = Ending
	r.gen++
	gen := r.gen
	stream, transport := r.stream, r.transport
	r.guard = r.clock.AfterFunc(r.guardTimeout, func() { r.forceReset(c, gen) })
	r.mu.Unlock()

	r.logger.Info().Bool("init_pending", pending != nil).Msg("media teardown started")
	go r.runTeardown(c, gen, pending, stream, transport)

	_, err := c.Wait(ctx)
	return err
}

func (r *Registry) runTeardown(c *inflight.Call[struct{}], gen uint64, pending *inflight.Call[core.Stream], stream core.Stream, transport core.Transport) {
	if pending != nil {
		<-pending.Done()
		r.mu.Lock()
		late, ok := r.overtaken[pending]
		delete(r.overtaken, pending)
		r.mu.Unlock()
		if ok {
			if err := release(late.stream, late.transport); err != nil {
				r.logger.Warn().Err(err).Msg("release of overtaken init failed")
			}
		}
	}
	err := release(stream, transport)
	if err != nil {
		r.logger.Warn().Err(err).Msg("media release reported errors")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen == gen && r.phase == Ending {
		r.clear()
		r.logger.Info().Msg("media idle")
	}
	r.endLock.Release(c, struct{}{}, err)
}

// forceReset clears bookkeeping for a teardown stuck past the guard timeout.
// The stuck release keeps running; only the registry state is reset.
func (r *Registry) forceReset(c *inflight.Call[struct{}], gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen || r.phase != Ending {
		return
	}
	forcedResetsTotal.Inc()
	r.logger.Warn().Dur("guard", r.guardTimeout).Msg("media teardown hung, forcing idle")
	r.gen++
	r.clear()
	r.endLock.Drop(c, struct{}{}, nil)
}

// clear must be called with r.mu held.
func (r *Registry) clear() {
	r.stream = nil
	r.transport = nil
	r.previewOnly = false
	r.phase = Idle
	if r.guard != nil {
		r.guard.Stop()
		r.guard = nil
	}
}

type held struct {
	stream    core.Stream
	transport core.Transport
}

func release(stream core.Stream, transport core.Transport) error {
	var err error
	if stream != nil {
		for _, t := range stream.Tracks() {
			err = multierr.Append(err, t.Stop())
		}
	}
	if transport != nil {
		err = multierr.Append(err, transport.Close())
	}
	return err
}

// Summary is a read-only diagnostic snapshot.
type Summary struct {
	Tag          string
	Phase        Phase
	StreamID     string
	TrackCount   int
	LiveTracks   int
	HasTransport bool
	PreviewOnly  bool
	InitPending  bool
	EndPending   bool
}

func (s Summary) MarshalZerologObject(e *zerolog.Event) {
	e.Str("tag", s.Tag).
		Str("phase", s.Phase.String()).
		Str("stream", s.StreamID).
		Int("tracks", s.TrackCount).
		Int("live", s.LiveTracks).
		Bool("transport", s.HasTransport).
		Bool("preview_only", s.PreviewOnly).
		Bool("init_pending", s.InitPending).
		Bool("end_pending", s.EndPending)
}

// MediaSummary snapshots the registry without side effects.
func (r *Registry) MediaSummary(tag string) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Summary{
		Tag:          tag,
		Phase:        r.phase,
		HasTransport: r.transport != nil,
		PreviewOnly:  r.previewOnly,
		InitPending:  r.initLock.Current() != nil,
		EndPending:   r.endLock.Current() != nil,
	}
	if r.stream != nil {
		s.StreamID = r.stream.ID()
		tracks := r.stream.Tracks()
		s.TrackCount = len(tracks)
		for _, t := range tracks {
			if t.ReadyState() == core.TrackLive {
				s.LiveTracks++
			}
		}
	}
	return s
}
