// Package publish makes sure a local stream's tracks are published to a
// transport once per stream identity.
package publish

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/core"
)

// TransportError reports a failed publish of one track.
type TransportError struct {
	TrackID string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("publish track %s: %v", e.TrackID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Identity derives the publish key of a stream from its id and the id and
// ready state of every track.
func Identity(s core.Stream) string {
	var b strings.Builder
	b.WriteString(s.ID())
	for _, t := range s.Tracks() {
		b.WriteByte('|')
		b.WriteString(t.ID())
		b.WriteByte(':')
		b.WriteString(string(t.ReadyState()))
	}
	return b.String()
}

type Guard struct {
	mu        sync.Mutex
	published string
	inFlight  string
	// sent holds the track ids already on the transport for identity sentFor,
	// so a retry after a partial failure only publishes the rest.
	sentFor string
	sent    map[string]struct{}
}

func NewGuard() *Guard { return &Guard{} }

// Publish adds every live track of stream to transport unless this stream
// identity was already published or is being published. onError, if set,
// receives transport failures; they never tear down other state.
func (g *Guard) Publish(ctx context.Context, stream core.Stream, transport core.Transport, onError func(error)) (bool, error) {
	id := Identity(stream)

	g.mu.Lock()
	if g.published == id || g.inFlight == id {
		g.mu.Unlock()
		return false, nil
	}
	if g.sentFor != id {
		g.sentFor = id
		g.sent = make(map[string]struct{})
	}
	g.published = ""
	g.inFlight = id
	g.mu.Unlock()

	logger := log.With().Str("module", "app.publish").Str("stream", stream.ID()).Logger()
	count := 0
	for _, t := range stream.Tracks() {
		if t.ReadyState() != core.TrackLive || g.wasSent(id, t.ID()) {
			continue
		}
		if err := transport.PublishTrack(ctx, t); err != nil {
			terr := &TransportError{TrackID: t.ID(), Err: err}
			logger.Error().Err(err).Str("track", t.ID()).Msg("publish failed")
			g.mu.Lock()
			if g.inFlight == id {
				g.inFlight = ""
			}
			g.mu.Unlock()
			if onError != nil {
				onError(terr)
			}
			return false, terr
		}
		g.markSent(id, t.ID())
		count++
	}

	g.mu.Lock()
	if g.inFlight == id {
		g.inFlight = ""
		g.published = id
	}
	g.mu.Unlock()
	logger.Info().Int("tracks", count).Msg("published")
	return true, nil
}

func (g *Guard) wasSent(id, track string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sentFor != id {
		return false
	}
	_, ok := g.sent[track]
	return ok
}

func (g *Guard) markSent(id, track string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sentFor == id {
		g.sent[track] = struct{}{}
	}
}

// Published reports whether stream's current identity has been published.
func (g *Guard) Published(stream core.Stream) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.published == Identity(stream)
}

// Reset forgets what was published, e.g. after the transport was replaced.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.published = ""
	g.inFlight = ""
	g.sentFor = ""
	g.sent = nil
}
