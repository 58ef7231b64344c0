package core

import "context"

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// TrackState mirrors a device track's readyState.
type TrackState string

const (
	TrackLive  TrackState = "live"
	TrackEnded TrackState = "ended"
)

// Track is one camera or microphone track. Stop releases the device.
type Track interface {
	ID() string
	Kind() TrackKind
	ReadyState() TrackState
	Stop() error
}

// Stream is a set of local tracks acquired together.
type Stream interface {
	ID() string
	Tracks() []Track
}

// DeviceRequest selects which devices to open.
type DeviceRequest struct {
	Video bool
	Audio bool
}

// DeviceSource acquires local devices. Acquire may block on a permission prompt.
type DeviceSource interface {
	Acquire(ctx context.Context, req DeviceRequest) (Stream, error)
}

// Transport is the peer-connection-like object carrying a call.
// Only the publish/close lifecycle is used by the coordinator.
type Transport interface {
	PublishTrack(ctx context.Context, t Track) error
	Close() error
}

type TransportFactory interface {
	NewTransport(ctx context.Context) (Transport, error)
}
