// Package presence keeps the participant's online status fresh and lets
// other subsystems run periodic work on the same timer.
package presence

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultPeriod = 30 * time.Second

// Reporter delivers a presence update to the backend.
type Reporter interface {
	ReportPresence(ctx context.Context, online bool) error
}

// Task is periodic work riding the heartbeat.
type Task func(ctx context.Context) error

type Options struct {
	Clock  clock.Clock
	Period time.Duration
}

type Service struct {
	reporter Reporter
	clock    clock.Clock
	period   time.Duration

	mu     sync.Mutex
	tasks  map[string]Task
	online bool
	cancel context.CancelFunc
	done   chan struct{}

	logger zerolog.Logger
}

func NewService(reporter Reporter, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	return &Service{
		reporter: reporter,
		clock:    opts.Clock,
		period:   opts.Period,
		tasks:    make(map[string]Task),
		logger:   log.With().Str("module", "app.presence").Logger(),
	}
}

// Start sends one status update now and then one per period, running every
// registered task on each tick. A running heartbeat is replaced.
func (s *Service) Start(ctx context.Context, online bool) {
	s.halt()

	loopCtx, cancel := context.WithCancel(ctx)
	ticker := s.clock.Ticker(s.period)
	done := make(chan struct{})

	s.mu.Lock()
	s.online = online
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.report(loopCtx, online)
	go s.loop(loopCtx, ticker, done)
	s.logger.Info().Bool("online", online).Dur("period", s.period).Msg("heartbeat started")
}

func (s *Service) loop(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	s.mu.Lock()
	online := s.online
	tasks := maps.Clone(s.tasks)
	s.mu.Unlock()

	s.report(ctx, online)
	for _, id := range slices.Sorted(maps.Keys(tasks)) {
		if ctx.Err() != nil {
			return
		}
		s.runTask(ctx, id, tasks[id])
	}
}

func (s *Service) runTask(ctx context.Context, id string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("task", id).Str("panic", fmt.Sprint(r)).Msg("heartbeat task panicked")
		}
	}()
	if err := task(ctx); err != nil {
		s.logger.Warn().Err(err).Str("task", id).Msg("heartbeat task failed")
	}
}

func (s *Service) report(ctx context.Context, online bool) {
	if err := s.reporter.ReportPresence(ctx, online); err != nil {
		s.logger.Warn().Err(err).Bool("online", online).Msg("presence update failed")
	}
}

// Stop halts the heartbeat and sends a final offline update.
func (s *Service) Stop(ctx context.Context) {
	s.halt()
	s.mu.Lock()
	s.online = false
	s.mu.Unlock()
	s.report(ctx, false)
	s.logger.Info().Msg("heartbeat stopped")
}

// Cleanup resets local bookkeeping without any network call.
func (s *Service) Cleanup() {
	s.halt()
	s.mu.Lock()
	s.online = false
	clear(s.tasks)
	s.mu.Unlock()
}

func (s *Service) halt() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the timer is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// RegisterTask adds or replaces the task with id.
func (s *Service) RegisterTask(id string, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id] = task
}

func (s *Service) UnregisterTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}
