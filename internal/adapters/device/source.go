// Package device opens the local camera and microphone with pion/mediadevices.
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/core"
)

// Constraints are the capture settings applied to every acquisition.
type Constraints struct {
	Width      int
	Height     int
	FrameRate  float64
	SampleRate int
	Channels   int
}

func DefaultConstraints() Constraints {
	return Constraints{Width: 640, Height: 480, FrameRate: 30, SampleRate: 48000, Channels: 1}
}

// Source implements core.DeviceSource. Codecs decides which encoders back
// the tracks; register the same selector with the peer connection's
// MediaEngine.
type Source struct {
	Codecs      *mediadevices.CodecSelector
	Constraints Constraints

	// getUserMedia is swapped in tests.
	getUserMedia func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)
	logger       zerolog.Logger
}

func NewSource(codecs *mediadevices.CodecSelector, c Constraints) *Source {
	return &Source{
		Codecs:       codecs,
		Constraints:  c,
		getUserMedia: mediadevices.GetUserMedia,
		logger:       log.With().Str("module", "device").Logger(),
	}
}

// Acquire opens the requested devices. GetUserMedia has no cancellation, so
// a late result after ctx is done is closed rather than leaked.
func (s *Source) Acquire(ctx context.Context, req core.DeviceRequest) (core.Stream, error) {
	if !req.Video && !req.Audio {
		return nil, fmt.Errorf("no devices requested")
	}
	constraints := mediadevices.MediaStreamConstraints{Codec: s.Codecs}
	if req.Video {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(s.Constraints.Width)
			c.Height = prop.Int(s.Constraints.Height)
			c.FrameRate = prop.Float(s.Constraints.FrameRate)
		}
	}
	if req.Audio {
		constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(s.Constraints.SampleRate)
			c.ChannelCount = prop.Int(s.Constraints.Channels)
			c.Latency = prop.Duration(20 * time.Millisecond)
		}
	}

	type result struct {
		ms  mediadevices.MediaStream
		err error
	}
	done := make(chan result, 1)
	go func() {
		ms, err := s.getUserMedia(constraints)
		done <- result{ms, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("get user media: %w", r.err)
		}
		st := wrapStream(r.ms)
		s.logger.Info().Str("stream", st.id).Int("tracks", len(st.tracks)).Msg("devices opened")
		return st, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				for _, t := range r.ms.GetTracks() {
					_ = t.Close()
				}
				s.logger.Info().Msg("closed devices opened after cancel")
			}
		}()
		return nil, ctx.Err()
	}
}

type stream struct {
	id     string
	tracks []core.Track
}

func wrapStream(ms mediadevices.MediaStream) *stream {
	st := &stream{id: uuid.NewString()}
	for _, t := range ms.GetTracks() {
		st.tracks = append(st.tracks, wrapTrack(t))
	}
	return st
}

func (s *stream) ID() string           { return s.id }
func (s *stream) Tracks() []core.Track { return s.tracks }

// track adapts a mediadevices track to core.Track.
type track struct {
	md mediadevices.Track

	mu    sync.Mutex
	ended bool
}

func wrapTrack(md mediadevices.Track) *track {
	t := &track{md: md}
	md.OnEnded(func(error) {
		t.mu.Lock()
		t.ended = true
		t.mu.Unlock()
	})
	return t
}

func (t *track) ID() string { return t.md.ID() }

func (t *track) Kind() core.TrackKind {
	if t.md.Kind() == webrtc.RTPCodecTypeVideo {
		return core.TrackVideo
	}
	return core.TrackAudio
}

func (t *track) ReadyState() core.TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return core.TrackEnded
	}
	return core.TrackLive
}

// Stop closes the underlying device. Stopping twice is a no-op.
func (t *track) Stop() error {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return nil
	}
	t.ended = true
	t.mu.Unlock()
	return t.md.Close()
}

// Local exposes the track for rtc.Transport.
func (t *track) Local() webrtc.TrackLocal {
	if tl, ok := any(t.md).(webrtc.TrackLocal); ok {
		return tl
	}
	return nil
}
