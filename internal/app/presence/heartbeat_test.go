package presence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []bool
	err   error
}

func (r *recorder) ReportPresence(_ context.Context, online bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, online)
	return r.err
}

func (r *recorder) Calls() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.calls...)
}

const period = 30 * time.Second

func newTestService() (*Service, *recorder, *clock.Mock) {
	rec := &recorder{}
	mock := clock.NewMock()
	return NewService(rec, Options{Clock: mock, Period: period}), rec, mock
}

func TestStartThenStopSendsOnlineThenOffline(t *testing.T) {
	s, rec, _ := newTestService()
	ctx := context.Background()

	s.Start(ctx, true)
	assert.True(t, s.Running())
	s.Stop(ctx)

	assert.Equal(t, []bool{true, false}, rec.Calls())
	assert.False(t, s.Running())
}

func TestTickResendsStatusAndRunsTasks(t *testing.T) {
	s, rec, mock := newTestService()
	var runs atomic.Int32
	s.RegisterTask("queue-count", func(context.Context) error {
		runs.Add(1)
		return nil
	})

	s.Start(context.Background(), true)
	defer s.Cleanup()

	mock.Add(period)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	mock.Add(period)
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, []bool{true, true, true}, rec.Calls())
}

func TestFailingTaskDoesNotStopOthersOrLaterTicks(t *testing.T) {
	s, _, mock := newTestService()
	var good atomic.Int32
	s.RegisterTask("a-errors", func(context.Context) error { return errors.New("boom") })
	s.RegisterTask("b-panics", func(context.Context) error { panic("bad task") })
	s.RegisterTask("c-good", func(context.Context) error {
		good.Add(1)
		return nil
	})

	s.Start(context.Background(), true)
	defer s.Cleanup()

	for i := int32(1); i <= 3; i++ {
		mock.Add(period)
		require.Eventually(t, func() bool { return good.Load() == i }, time.Second, time.Millisecond)
	}
	assert.True(t, s.Running())
}

func TestReportFailureIsSilent(t *testing.T) {
	s, rec, mock := newTestService()
	rec.err = errors.New("503")
	var runs atomic.Int32
	s.RegisterTask("t", func(context.Context) error {
		runs.Add(1)
		return nil
	})

	s.Start(context.Background(), true)
	defer s.Cleanup()
	mock.Add(period)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
}

func TestUnregisteredTaskStopsRunning(t *testing.T) {
	s, _, mock := newTestService()
	var runs atomic.Int32
	s.RegisterTask("t", func(context.Context) error {
		runs.Add(1)
		return nil
	})
	var other atomic.Int32
	s.RegisterTask("other", func(context.Context) error {
		other.Add(1)
		return nil
	})

	s.Start(context.Background(), true)
	defer s.Cleanup()

	mock.Add(period)
	require.Eventually(t, func() bool { return other.Load() == 1 }, time.Second, time.Millisecond)
	s.UnregisterTask("t")
	mock.Add(period)
	require.Eventually(t, func() bool { return other.Load() == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, int32(1), runs.Load())
}

func TestCleanupMakesNoNetworkCall(t *testing.T) {
	s, rec, mock := newTestService()
	var runs atomic.Int32
	s.RegisterTask("t", func(context.Context) error {
		runs.Add(1)
		return nil
	})

	s.Start(context.Background(), true)
	s.Cleanup()
	mock.Add(period)
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, []bool{true}, rec.Calls())
	assert.Zero(t, runs.Load())
	assert.False(t, s.Running())
}

func TestRestartReplacesTimer(t *testing.T) {
	s, rec, mock := newTestService()
	ctx := context.Background()

	s.Start(ctx, true)
	s.Start(ctx, false)
	defer s.Cleanup()

	mock.Add(period)
	require.Eventually(t, func() bool { return len(rec.Calls()) == 3 }, time.Second, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, []bool{true, false, false}, rec.Calls())
}
