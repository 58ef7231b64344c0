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

func newTestCreator(sessions *fakeSessions, rec *recorder) (*Creator, *UnloadSuppressor) {
	suppress := &UnloadSuppressor{}
	c := NewCreator(CreatorOptions{
		Sessions: sessions,
		Phases:   fakePhases{},
		Nav:      rec,
		Notifier: rec,
		Suppress: suppress,
		Grace:    time.Millisecond,
	})
	return c, suppress
}

func entry(state domain.FanState) domain.QueueEntry {
	return domain.QueueEntry{ID: "e1", CreatorID: "c1", FanID: "f1", FanName: "Sam", FanState: state}
}

func TestStartSessionRejectsNotReadyFansLocally(t *testing.T) {
	states := []domain.FanState{domain.FanWaiting, domain.FanAwaitingConsent, domain.FanDeclined, domain.FanInCall}
	seen := map[string]domain.FanState{}

	for _, st := range states {
		sessions := &fakeSessions{id: "s1"}
		rec := &recorder{}
		c, suppress := newTestCreator(sessions, rec)

		_, err := c.StartSession(context.Background(), entry(st))
		var notReady *domain.NotReadyError
		require.ErrorAs(t, err, &notReady, "state %s", st)
		assert.Equal(t, st, notReady.State)
		assert.Equal(t, 0, sessions.Calls(), "no server call for %s", st)
		assert.Empty(t, rec.Redirects())
		assert.False(t, suppress.Suppressed())

		notices := rec.Notices()
		require.Len(t, notices, 1)
		assert.Equal(t, NoticeError, notices[0].Kind)
		if prev, dup := seen[notices[0].Body]; dup {
			t.Fatalf("states %s and %s share the message %q", prev, st, notices[0].Body)
		}
		seen[notices[0].Body] = st
	}
}

func TestStartSessionRedirectsToCreatorRoute(t *testing.T) {
	sessions := &fakeSessions{id: "s42"}
	rec := &recorder{}
	c, suppress := newTestCreator(sessions, rec)

	id, err := c.StartSession(context.Background(), entry(domain.FanReady))
	require.NoError(t, err)
	assert.Equal(t, domain.SessionID("s42"), id)
	assert.Equal(t, 1, sessions.Calls())
	assert.Equal(t, []string{"/session/s42?role=creator"}, rec.Redirects())
	assert.True(t, suppress.Suppressed())
	require.NotEmpty(t, rec.Notices())
	assert.Equal(t, NoticeSuccess, rec.Notices()[0].Kind)
}

func TestStartSessionSurfacesServerRejection(t *testing.T) {
	// The local snapshot said ready but the fan declined in the meantime.
	sessions := &fakeSessions{err: &domain.NotReadyError{State: domain.FanDeclined}}
	rec := &recorder{}
	c, _ := newTestCreator(sessions, rec)

	_, err := c.StartSession(context.Background(), entry(domain.FanReady))
	var notReady *domain.NotReadyError
	require.ErrorAs(t, err, &notReady)
	assert.Equal(t, domain.FanDeclined, notReady.State)
	assert.Empty(t, rec.Redirects())
	require.Len(t, rec.Notices(), 1)
	assert.Equal(t, domain.FanDeclined.NotReadyReason(), rec.Notices()[0].Body)
}

func TestStartSessionHidesBackendErrorText(t *testing.T) {
	sessions := &fakeSessions{err: errors.New("pq: connection reset by peer")}
	rec := &recorder{}
	c, _ := newTestCreator(sessions, rec)

	_, err := c.StartSession(context.Background(), entry(domain.FanReady))
	require.Error(t, err)
	require.Len(t, rec.Notices(), 1)
	assert.NotContains(t, rec.Notices()[0].Body, "pq:")
}

func TestStartSessionPrepareFailureStillNavigates(t *testing.T) {
	sessions := &fakeSessions{id: "s1"}
	rec := &recorder{}
	c := NewCreator(CreatorOptions{
		Sessions: sessions,
		Phases:   fakePhases{err: errors.New("not live")},
		Nav:      rec,
		Notifier: rec,
		Grace:    time.Millisecond,
	})

	_, err := c.StartSession(context.Background(), entry(domain.FanReady))
	require.NoError(t, err)
	assert.Len(t, rec.Redirects(), 1)
}

func TestStartSessionCancelledDuringGrace(t *testing.T) {
	sessions := &fakeSessions{id: "s1"}
	rec := &recorder{}
	c := NewCreator(CreatorOptions{
		Sessions: sessions,
		Phases:   fakePhases{},
		Nav:      rec,
		Grace:    time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	id, err := c.StartSession(ctx, entry(domain.FanReady))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.SessionID("s1"), id)
	assert.Empty(t, rec.Redirects())
}
