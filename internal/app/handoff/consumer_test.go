package handoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Livecall/internal/domain"
)

func invite(id domain.InviteID) domain.SessionInvite {
	now := time.Now()
	return domain.SessionInvite{
		ID:          id,
		SessionID:   "s1",
		InviteeID:   "fan",
		Status:      domain.InvitePending,
		CreatorName: "Alex",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Minute),
	}
}

type consumerFixture struct {
	c        *Consumer
	rec      *recorder
	sub      *fakeSub
	feed     *fakeFeed
	invites  *fakeInvites
	visible  *Gate
	suppress *UnloadSuppressor
}

func newConsumerFixture(t *testing.T) *consumerFixture {
	t.Helper()
	f := &consumerFixture{
		rec:      &recorder{},
		sub:      newFakeSub(),
		invites:  newFakeInvites(),
		visible:  NewGate(true),
		suppress: &UnloadSuppressor{},
	}
	f.feed = &fakeFeed{sub: f.sub}
	c, err := NewConsumer(ConsumerOptions{
		Me:         "fan",
		Feed:       f.feed,
		Invites:    f.invites,
		Notifier:   f.rec,
		Nav:        f.rec,
		Suppress:   f.suppress,
		Visibility: f.visible,
		Delay:      time.Millisecond,
	})
	require.NoError(t, err)
	f.c = c
	return f
}

func TestHandleIgnoresForeignStaleAndExpiredInvites(t *testing.T) {
	f := newConsumerFixture(t)
	ctx := context.Background()

	other := invite("i1")
	other.InviteeID = "someone-else"
	accepted := invite("i2")
	accepted.Status = domain.InviteAccepted
	expired := invite("i3")
	expired.ExpiresAt = time.Now().Add(-time.Second)

	assert.False(t, f.c.Handle(ctx, other, "push"))
	assert.False(t, f.c.Handle(ctx, accepted, "push"))
	assert.False(t, f.c.Handle(ctx, expired, "push"))
	assert.Empty(t, f.rec.Notices())
	assert.False(t, f.c.Processed("i3"))
}

func TestPushAndColdStartDuplicateFiresOnce(t *testing.T) {
	f := newConsumerFixture(t)
	inv := invite("i1")
	f.invites.pending = &inv
	f.sub.events <- inv

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.c.Run(ctx) }()

	close(f.sub.active)
	require.Eventually(t, func() bool { return len(f.rec.Redirects()) == 1 }, time.Second, time.Millisecond)
	<-f.invites.queried
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, f.rec.Notices(), 1)
	assert.Equal(t, []string{"/session/s1?role=user"}, f.rec.Redirects())
	assert.Equal(t, domain.InviteAccepted, f.invites.Status("i1"))
	assert.True(t, f.suppress.Suppressed())

	cancel()
	assert.NoError(t, <-done)
}

func TestColdStartCatchesInviteCreatedBeforeSubscribe(t *testing.T) {
	f := newConsumerFixture(t)
	inv := invite("early")
	f.invites.pending = &inv
	close(f.sub.active)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.rec.Redirects()) == 1 }, time.Second, time.Millisecond)
	assert.True(t, f.c.Processed("early"))
}

func TestHiddenPageDefersNavigation(t *testing.T) {
	f := newConsumerFixture(t)
	f.visible.Set(false)

	require.True(t, f.c.Handle(context.Background(), invite("i1"), "push"))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.rec.Redirects())
	assert.Len(t, f.rec.Notices(), 1)

	f.visible.Set(true)
	require.Eventually(t, func() bool { return len(f.rec.Redirects()) == 1 }, time.Second, time.Millisecond)
}

func TestCancelDropsDeferredNavigation(t *testing.T) {
	f := newConsumerFixture(t)
	f.visible.Set(false)
	ctx, cancel := context.WithCancel(context.Background())

	require.True(t, f.c.Handle(ctx, invite("i1"), "push"))
	cancel()
	time.Sleep(10 * time.Millisecond)
	f.visible.Set(true)
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, f.rec.Redirects())
	assert.False(t, f.suppress.Suppressed())
}

func TestSubscribeFailureIsChannelError(t *testing.T) {
	f := newConsumerFixture(t)
	f.feed.err = errors.New("dial refused")

	err := f.c.Run(context.Background())
	var cerr *ChannelError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "subscribe", cerr.Op)
	assert.Equal(t, "Live updates are unavailable. Refresh the page to reconnect.", UserMessage(err))
}

func TestClosedFeedIsChannelError(t *testing.T) {
	f := newConsumerFixture(t)
	close(f.sub.active)
	f.sub.err = errors.New("connection reset")
	close(f.sub.events)

	err := f.c.Run(context.Background())
	var cerr *ChannelError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorContains(t, err, "connection reset")
}
