package handoff

import (
	"context"
	"sync"

	"github.com/dkeye/Livecall/internal/domain"
)

type recorder struct {
	mu        sync.Mutex
	notices   []Notice
	redirects []string
}

func (r *recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) Redirect(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirects = append(r.redirects, url)
}

func (r *recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

func (r *recorder) Redirects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.redirects...)
}

type fakeSessions struct {
	mu    sync.Mutex
	calls int
	id    domain.SessionID
	err   error
}

func (f *fakeSessions) CreateSessionFromQueue(_ context.Context, _ domain.QueueEntryID) (domain.SessionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.id, f.err
}

func (f *fakeSessions) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePhases struct{ err error }

func (f fakePhases) Prepare() error { return f.err }

type fakeSub struct {
	active chan struct{}
	events chan domain.SessionInvite
	err    error
	closed chan struct{}
	once   sync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{
		active: make(chan struct{}),
		events: make(chan domain.SessionInvite, 8),
		closed: make(chan struct{}),
	}
}

func (s *fakeSub) Active() <-chan struct{}             { return s.active }
func (s *fakeSub) Events() <-chan domain.SessionInvite { return s.events }
func (s *fakeSub) Err() error                          { return s.err }
func (s *fakeSub) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeFeed struct {
	sub *fakeSub
	err error
}

func (f *fakeFeed) Subscribe(_ context.Context, _ domain.UserID) (Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

type fakeInvites struct {
	mu      sync.Mutex
	pending *domain.SessionInvite
	queried chan struct{}
	updates map[domain.InviteID]domain.InviteStatus
}

func newFakeInvites() *fakeInvites {
	return &fakeInvites{
		queried: make(chan struct{}, 1),
		updates: make(map[domain.InviteID]domain.InviteStatus),
	}
}

func (f *fakeInvites) PendingInvite(_ context.Context) (domain.SessionInvite, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case f.queried <- struct{}{}:
	default:
	}
	if f.pending == nil {
		return domain.SessionInvite{}, false, nil
	}
	return *f.pending, true, nil
}

func (f *fakeInvites) UpdateInviteStatus(_ context.Context, id domain.InviteID, status domain.InviteStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[id] = status
	return nil
}

func (f *fakeInvites) Status(id domain.InviteID) domain.InviteStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates[id]
}
