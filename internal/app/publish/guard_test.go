package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Livecall/internal/core"
	"github.com/dkeye/Livecall/internal/core/coretest"
)

func newStream() *coretest.Stream {
	return coretest.NewStream(coretest.NewTrack(core.TrackVideo), coretest.NewTrack(core.TrackAudio))
}

func TestPublishSameStreamTwiceIsNoop(t *testing.T) {
	g := NewGuard()
	tr := &coretest.Transport{}
	s := newStream()
	ctx := context.Background()

	did, err := g.Publish(ctx, s, tr, nil)
	require.NoError(t, err)
	assert.True(t, did)
	did, err = g.Publish(ctx, s, tr, nil)
	require.NoError(t, err)
	assert.False(t, did)

	for _, track := range s.Tracks() {
		assert.Equal(t, 1, tr.Published(track.ID()))
	}
	assert.True(t, g.Published(s))
}

type slowTransport struct {
	coretest.Transport
	gate chan struct{}
}

func (s *slowTransport) PublishTrack(ctx context.Context, t core.Track) error {
	<-s.gate
	return s.Transport.PublishTrack(ctx, t)
}

func TestRapidConcurrentPublishPublishesOnce(t *testing.T) {
	g := NewGuard()
	tr := &slowTransport{gate: make(chan struct{})}
	s := newStream()

	var wg sync.WaitGroup
	results := make(chan bool, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			did, err := g.Publish(context.Background(), s, tr, nil)
			assert.NoError(t, err)
			results <- did
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(tr.gate)
	wg.Wait()
	close(results)

	published := 0
	for did := range results {
		if did {
			published++
		}
	}
	assert.Equal(t, 1, published)
	for _, track := range s.Tracks() {
		assert.Equal(t, 1, tr.Published(track.ID()))
	}
}

func TestNewStreamIdentityPermitsFreshPublish(t *testing.T) {
	g := NewGuard()
	tr := &coretest.Transport{}
	ctx := context.Background()

	first := newStream()
	_, err := g.Publish(ctx, first, tr, nil)
	require.NoError(t, err)

	second := newStream()
	did, err := g.Publish(ctx, second, tr, nil)
	require.NoError(t, err)
	assert.True(t, did)
	did, err = g.Publish(ctx, second, tr, nil)
	require.NoError(t, err)
	assert.False(t, did)

	for _, track := range second.Tracks() {
		assert.Equal(t, 1, tr.Published(track.ID()))
	}
	assert.Equal(t, 4, tr.PublishCount())
	assert.False(t, g.Published(first))
}

func TestTrackEndingChangesIdentity(t *testing.T) {
	s := newStream()
	before := Identity(s)
	require.NoError(t, s.Tracks()[1].Stop())
	assert.NotEqual(t, before, Identity(s))
}

func TestPublishFailureReportsAndAllowsRetry(t *testing.T) {
	g := NewGuard()
	tr := &coretest.Transport{FailPublish: errors.New("dtls failed")}
	s := newStream()

	var reported error
	did, err := g.Publish(context.Background(), s, tr, func(err error) { reported = err })
	assert.False(t, did)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, s.Tracks()[0].ID(), terr.TrackID)
	assert.Same(t, err, reported)

	tr.FailPublish = nil
	did, err = g.Publish(context.Background(), s, tr, nil)
	require.NoError(t, err)
	assert.True(t, did)
}

func TestRetryAfterPartialFailureSkipsSentTracks(t *testing.T) {
	g := NewGuard()
	tr := &coretest.Transport{FailCall: 2}
	s := newStream()
	video, audio := s.Tracks()[0], s.Tracks()[1]

	_, err := g.Publish(context.Background(), s, tr, nil)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, audio.ID(), terr.TrackID)
	assert.False(t, g.Published(s))

	did, err := g.Publish(context.Background(), s, tr, nil)
	require.NoError(t, err)
	assert.True(t, did)
	assert.Equal(t, 1, tr.Published(video.ID()))
	assert.Equal(t, 1, tr.Published(audio.ID()))
	assert.True(t, g.Published(s))

	// A new identity starts from scratch.
	other := newStream()
	_, err = g.Publish(context.Background(), other, tr, nil)
	require.NoError(t, err)
	for _, track := range other.Tracks() {
		assert.Equal(t, 1, tr.Published(track.ID()))
	}
}

func TestResetAllowsRepublish(t *testing.T) {
	g := NewGuard()
	tr := &coretest.Transport{}
	s := newStream()

	_, _ = g.Publish(context.Background(), s, tr, nil)
	g.Reset()
	did, err := g.Publish(context.Background(), s, tr, nil)
	require.NoError(t, err)
	assert.True(t, did)
}
