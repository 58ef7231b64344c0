// Package rtc publishes local tracks over a pion/webrtc peer connection.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/core"
)

// ErrUnsupportedTrack is returned for tracks that cannot be sent over RTP.
var ErrUnsupportedTrack = errors.New("track has no webrtc local track")

// LocalTrack is implemented by core.Track values backed by a pion track.
type LocalTrack interface {
	Local() webrtc.TrackLocal
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Factory opens one peer connection per session.
type Factory struct {
	API    *webrtc.API
	Config webrtc.Configuration
}

// NewFactory uses api when set, otherwise the default codecs.
func NewFactory(api *webrtc.API, cfg webrtc.Configuration) (*Factory, error) {
	if api == nil {
		me := &webrtc.MediaEngine{}
		if err := me.RegisterDefaultCodecs(); err != nil {
			return nil, fmt.Errorf("register codecs: %w", err)
		}
		api = webrtc.NewAPI(webrtc.WithMediaEngine(me))
	}
	return &Factory{API: api, Config: cfg}, nil
}

func (f *Factory) NewTransport(ctx context.Context) (core.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pc, err := f.API.NewPeerConnection(f.Config)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		pc:      pc,
		senders: make(map[string]*webrtc.RTPSender),
		logger:  log.With().Str("module", "webrtc").Str("transport", uuid.NewString()).Logger(),
	}
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		t.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
	})
	return t, nil
}

// Transport is a peer connection carrying the participant's local tracks.
type Transport struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	senders map[string]*webrtc.RTPSender
	closed  bool

	logger zerolog.Logger
}

// PublishTrack adds tr to the peer connection. Publishing the same track id
// again is a no-op.
func (t *Transport) PublishTrack(ctx context.Context, tr core.Track) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lt, ok := tr.(LocalTrack)
	if !ok || lt.Local() == nil {
		return ErrUnsupportedTrack
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return webrtc.ErrConnectionClosed
	}
	if _, dup := t.senders[tr.ID()]; dup {
		return nil
	}
	sender, err := t.pc.AddTrack(lt.Local())
	if err != nil {
		return err
	}
	t.senders[tr.ID()] = sender
	go drainRTCP(sender)
	t.logger.Info().Str("track", tr.ID()).Str("kind", string(tr.Kind())).Msg("track added")
	return nil
}

// drainRTCP reads incoming RTCP so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// Senders returns how many tracks are attached.
func (t *Transport) Senders() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.senders)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if err := t.pc.Close(); err != nil {
		t.logger.Error().Err(err).Msg("close error")
		return err
	}
	t.logger.Info().Msg("closed")
	return nil
}
