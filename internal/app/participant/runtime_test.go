package participant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Livecall/internal/app/fsm"
	"github.com/dkeye/Livecall/internal/app/handoff"
	"github.com/dkeye/Livecall/internal/app/media"
	"github.com/dkeye/Livecall/internal/core/coretest"
	"github.com/dkeye/Livecall/internal/domain"
)

type fakeBackend struct {
	mu        sync.Mutex
	presence  []bool
	ended     []domain.SessionID
	created   int
	queue     int
	queueErr  error
	sessionID domain.SessionID
}

func (b *fakeBackend) CreateSessionFromQueue(context.Context, domain.QueueEntryID) (domain.SessionID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created++
	return b.sessionID, nil
}

func (b *fakeBackend) Subscribe(context.Context, domain.UserID) (handoff.Subscription, error) {
	return nil, errors.New("no feed in tests")
}

func (b *fakeBackend) PendingInvite(context.Context) (domain.SessionInvite, bool, error) {
	return domain.SessionInvite{}, false, nil
}

func (b *fakeBackend) UpdateInviteStatus(context.Context, domain.InviteID, domain.InviteStatus) error {
	return nil
}

func (b *fakeBackend) ReportPresence(_ context.Context, online bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presence = append(b.presence, online)
	return nil
}

func (b *fakeBackend) EndSession(_ context.Context, id domain.SessionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = append(b.ended, id)
	return nil
}

func (b *fakeBackend) QueueCount(context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue, b.queueErr
}

func (b *fakeBackend) Presence() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool(nil), b.presence...)
}

func (b *fakeBackend) Ended() []domain.SessionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.SessionID(nil), b.ended...)
}

type notices struct {
	mu   sync.Mutex
	list []handoff.Notice
	urls []string
}

func (n *notices) Notify(x handoff.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, x)
}

func (n *notices) Redirect(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, url)
}

func (n *notices) All() []handoff.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]handoff.Notice(nil), n.list...)
}

type fixture struct {
	rt         *Runtime
	backend    *fakeBackend
	devices    *coretest.Devices
	transports *coretest.Transports
	ui         *notices
	clock      *clock.Mock
}

func newFixture(t *testing.T, role domain.Role) *fixture {
	t.Helper()
	f := &fixture{
		backend:    &fakeBackend{sessionID: "s1"},
		devices:    &coretest.Devices{},
		transports: &coretest.Transports{},
		ui:         &notices{},
		clock:      clock.NewMock(),
	}
	rt, err := New(Deps{
		Me:         "u1",
		Role:       role,
		Backend:    f.backend,
		Devices:    f.devices,
		Transports: f.transports,
		Nav:        f.ui,
		Notifier:   f.ui,
		Clock:      f.clock,
		Timing:     Timing{HeartbeatPeriod: 30 * time.Second, TeardownGuard: 5 * time.Second},
	})
	require.NoError(t, err)
	f.rt = rt
	return f
}

func TestNewRejectsInvalidIdentity(t *testing.T) {
	_, err := New(Deps{Me: "", Role: domain.RoleUser})
	assert.ErrorIs(t, err, domain.ErrUserIDInvalid)

	_, err = New(Deps{Me: "u1", Role: "admin"})
	assert.Error(t, err)
}

func TestEnterAndEndSession(t *testing.T) {
	f := newFixture(t, domain.RoleUser)
	ctx := context.Background()

	require.NoError(t, f.rt.EnterSession(ctx, "s1", nil))
	assert.Equal(t, fsm.SessionActive, f.rt.Machine.Phase())
	assert.Equal(t, media.Active, f.rt.Media.Phase())
	assert.True(t, f.rt.ConfirmLeave())
	assert.Equal(t, 2, f.transports.Made()[0].PublishCount())
	assert.Equal(t, []bool{true}, f.backend.Presence())

	require.NoError(t, f.rt.EndSession(ctx))
	assert.Equal(t, fsm.Discoverable, f.rt.Machine.Phase())
	assert.Equal(t, media.Idle, f.rt.Media.Phase())
	assert.False(t, f.rt.ConfirmLeave())
	assert.Equal(t, []domain.SessionID{"s1"}, f.backend.Ended())
	for _, tr := range f.devices.Streams()[0].Tracks() {
		assert.Equal(t, 1, tr.(*coretest.Track).Stops())
	}
}

func TestEnterSessionRetriesAfterPermissionDenied(t *testing.T) {
	f := newFixture(t, domain.RoleUser)
	ctx := context.Background()
	f.devices.Err = errors.New("permission denied")

	err := f.rt.EnterSession(ctx, "s1", nil)
	var acq *media.AcquisitionError
	require.ErrorAs(t, err, &acq)
	assert.Equal(t, fsm.SessionJoining, f.rt.Machine.Phase())
	assert.Equal(t, media.Idle, f.rt.Media.Phase())
	require.Len(t, f.ui.All(), 1)
	assert.Contains(t, f.ui.All()[0].Body, "camera or microphone")

	f.devices.Err = nil
	require.NoError(t, f.rt.EnterSession(ctx, "s1", nil))
	assert.Equal(t, fsm.SessionActive, f.rt.Machine.Phase())
}

func TestPreviewThenEnterSessionUpgradesMedia(t *testing.T) {
	f := newFixture(t, domain.RoleUser)
	ctx := context.Background()

	require.NoError(t, f.rt.GoLive(ctx))
	require.NoError(t, f.rt.Machine.Prepare())
	preview, err := f.rt.Preview(ctx)
	require.NoError(t, err)
	require.Len(t, preview.Tracks(), 1)
	assert.Empty(t, f.transports.Made())

	require.NoError(t, f.rt.EnterSession(ctx, "s1", nil))
	assert.Equal(t, fsm.SessionActive, f.rt.Machine.Phase())
	assert.Empty(t, f.ui.All())
	assert.Equal(t, 2, f.devices.Calls())
	for _, tr := range preview.Tracks() {
		assert.Equal(t, 1, tr.(*coretest.Track).Stops())
	}
	require.Len(t, f.transports.Made(), 1)
	assert.Equal(t, 2, f.transports.Made()[0].PublishCount())
}

func TestPublishFailureReportedWithoutTeardown(t *testing.T) {
	f := newFixture(t, domain.RoleUser)
	f.transports.FailPublish = errors.New("ice failed")
	var reported []error

	err := f.rt.EnterSession(context.Background(), "s1", func(err error) { reported = append(reported, err) })
	require.Error(t, err)
	require.Len(t, reported, 1)
	assert.Equal(t, fsm.SessionJoining, f.rt.Machine.Phase())
	assert.Equal(t, media.Active, f.rt.Media.Phase())
	for _, tr := range f.devices.Streams()[0].Tracks() {
		assert.Equal(t, 0, tr.(*coretest.Track).Stops())
	}
}

func TestUnloadAfterHandoffMakesNoNetworkCalls(t *testing.T) {
	f := newFixture(t, domain.RoleUser)
	ctx := context.Background()
	require.NoError(t, f.rt.EnterSession(ctx, "s1", nil))
	f.rt.Suppress.Suppress()

	f.rt.HandleUnload(ctx)
	assert.Empty(t, f.backend.Ended())
	assert.Equal(t, []bool{true}, f.backend.Presence())
	assert.Equal(t, media.Idle, f.rt.Media.Phase())
	assert.False(t, f.rt.Heartbeat.Running())
}

func TestUnloadAbortsSessionAndGoesOffline(t *testing.T) {
	f := newFixture(t, domain.RoleUser)
	ctx := context.Background()
	require.NoError(t, f.rt.EnterSession(ctx, "s1", nil))

	f.rt.HandleUnload(ctx)
	assert.Equal(t, fsm.Offline, f.rt.Machine.Phase())
	assert.Equal(t, []domain.SessionID{"s1"}, f.backend.Ended())
	assert.Equal(t, []bool{true, false}, f.backend.Presence())
}

func TestResetBuildsFreshComponents(t *testing.T) {
	f := newFixture(t, domain.RoleUser)
	ctx := context.Background()
	require.NoError(t, f.rt.EnterSession(ctx, "s1", nil))
	oldMedia := f.rt.Media

	require.NoError(t, f.rt.Reset(ctx))
	assert.NotSame(t, oldMedia, f.rt.Media)
	assert.Equal(t, media.Idle, oldMedia.Phase())
	assert.Equal(t, fsm.Offline, f.rt.Machine.Phase())
	assert.Equal(t, media.Idle, f.rt.Media.Phase())
	assert.False(t, f.rt.Heartbeat.Running())
	// Reset never reports presence.
	assert.Equal(t, []bool{true}, f.backend.Presence())
}

func TestQueueCountRidesHeartbeat(t *testing.T) {
	f := newFixture(t, domain.RoleCreator)
	f.backend.queue = 3
	require.NoError(t, f.rt.GoLive(context.Background()))

	f.clock.Add(30 * time.Second)
	require.Eventually(t, func() bool { return f.rt.QueueCount() == 3 }, time.Second, time.Millisecond)

	require.NoError(t, f.rt.GoOffline(context.Background()))
	assert.Equal(t, false, f.backend.Presence()[len(f.backend.Presence())-1])
}

func TestStartSessionWithNavigatesCreator(t *testing.T) {
	f := newFixture(t, domain.RoleCreator)
	ctx := context.Background()
	require.NoError(t, f.rt.GoLive(ctx))

	done := make(chan error, 1)
	go func() {
		_, err := f.rt.StartSessionWith(ctx, domain.QueueEntry{ID: "e1", FanID: "f1", FanState: domain.FanReady})
		done <- err
	}()
	require.Eventually(t, func() bool { return f.rt.Machine.Phase() == fsm.SessionPrep }, time.Second, time.Millisecond)
	// Let the grace timer register before advancing the mock clock.
	time.Sleep(10 * time.Millisecond)
	f.clock.Add(handoff.DefaultTransitionGrace)
	require.NoError(t, <-done)
	assert.True(t, f.rt.Suppress.Suppressed())
}
