// Package coretest provides in-memory collaborators for tests.
package coretest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dkeye/Livecall/internal/core"
)

type Track struct {
	id    string
	kind  core.TrackKind
	stops atomic.Int32
	// Block, when set, makes Stop wait until it is closed.
	Block chan struct{}
}

func NewTrack(kind core.TrackKind) *Track {
	return &Track{id: uuid.NewString(), kind: kind}
}

func (t *Track) ID() string           { return t.id }
func (t *Track) Kind() core.TrackKind { return t.kind }

func (t *Track) ReadyState() core.TrackState {
	if t.stops.Load() > 0 {
		return core.TrackEnded
	}
	return core.TrackLive
}

func (t *Track) Stop() error {
	if t.Block != nil {
		<-t.Block
	}
	t.stops.Add(1)
	return nil
}

func (t *Track) Stops() int { return int(t.stops.Load()) }

type Stream struct {
	id     string
	tracks []core.Track
}

func NewStream(tracks ...core.Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: tracks}
}

func (s *Stream) ID() string           { return s.id }
func (s *Stream) Tracks() []core.Track { return s.tracks }

// Devices is a DeviceSource that counts acquisitions.
type Devices struct {
	mu      sync.Mutex
	calls   int
	streams []*Stream
	// Gate, when set, makes Acquire wait until it is closed.
	Gate chan struct{}
	// Err fails every acquisition.
	Err error
	// BlockStop makes every produced track block in Stop until closed.
	BlockStop chan struct{}
}

func (d *Devices) Acquire(ctx context.Context, req core.DeviceRequest) (core.Stream, error) {
	d.mu.Lock()
	d.calls++
	gate, err := d.Gate, d.Err
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	var tracks []core.Track
	if req.Video {
		t := NewTrack(core.TrackVideo)
		t.Block = d.BlockStop
		tracks = append(tracks, t)
	}
	if req.Audio {
		t := NewTrack(core.TrackAudio)
		t.Block = d.BlockStop
		tracks = append(tracks, t)
	}
	s := NewStream(tracks...)
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

func (d *Devices) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *Devices) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
}

// Transport records published tracks.
type Transport struct {
	mu        sync.Mutex
	published map[string]int
	closes    int
	calls     int
	// FailPublish fails every publish.
	FailPublish error
	// FailCall, when positive, fails only that publish call (1-based).
	FailCall int
}

func (t *Transport) PublishTrack(_ context.Context, tr core.Track) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.FailPublish != nil {
		return t.FailPublish
	}
	if t.FailCall > 0 && t.calls == t.FailCall {
		return fmt.Errorf("publish call %d failed", t.calls)
	}
	if t.published == nil {
		t.published = make(map[string]int)
	}
	t.published[tr.ID()]++
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

func (t *Transport) Published(trackID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.published[trackID]
}

func (t *Transport) PublishCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.published {
		n += c
	}
	return n
}

func (t *Transport) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// Transports hands out fresh Transport values.
type Transports struct {
	mu   sync.Mutex
	made []*Transport
	Err  error
	// FailPublish is copied into every new Transport.
	FailPublish error
}

func (f *Transports) NewTransport(context.Context) (core.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, fmt.Errorf("new transport: %w", f.Err)
	}
	t := &Transport{FailPublish: f.FailPublish}
	f.made = append(f.made, t)
	return t, nil
}

func (f *Transports) Made() []*Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Transport(nil), f.made...)
}
