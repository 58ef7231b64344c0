// Package app holds the server-side realtime plumbing: which feed
// connections belong to which user, what to do with slow ones, and how
// fast a creator may start sessions.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/core"
	"github.com/dkeye/Livecall/internal/domain"
)

type feedEntry struct {
	Sub    core.FeedSubscriber
	Cancel context.CancelFunc
}

// Registry maps invite feed connections to users. A user may have several
// connections open (tabs); each receives every invite addressed to it.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*feedEntry
	users map[domain.UserID]map[core.ConnID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[core.ConnID]*feedEntry),
		users: make(map[domain.UserID]map[core.ConnID]struct{}),
	}
}

func (r *Registry) Bind(id core.ConnID, sub core.FeedSubscriber, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &feedEntry{Sub: sub, Cancel: cancel}
	set, ok := r.users[sub.User()]
	if !ok {
		set = make(map[core.ConnID]struct{})
		r.users[sub.User()] = set
	}
	set[id] = struct{}{}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(sub.User())).Msg("bound feed")
}

func (r *Registry) Unbind(id core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return
	}
	delete(r.conns, id)
	user := e.Sub.User()
	delete(r.users[user], id)
	if len(r.users[user]) == 0 {
		delete(r.users, user)
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbind feed")
}

// Cancel stops the pumps of one connection. The adapter unbinds it when
// its read pump exits.
func (r *Registry) Cancel(id core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled feed")
	return true
}

// Count returns the number of open feeds of user.
func (r *Registry) Count(user domain.UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[user])
}

type PublishResult struct {
	Delivered int
	Dropped   []core.ConnID
}

// Publish sends frame to every feed of user without blocking. Connections
// whose send buffer is full are reported in Dropped.
func (r *Registry) Publish(user domain.UserID, frame core.Frame) PublishResult {
	r.mu.RLock()
	targets := make(map[core.ConnID]core.SignalConnection, len(r.users[user]))
	for id := range r.users[user] {
		targets[id] = r.conns[id].Sub.Signal()
	}
	r.mu.RUnlock()

	var res PublishResult
	for id, conn := range targets {
		if err := conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.Delivered++
	}
	return res
}

// Subscriber returns the bound subscriber of a connection.
func (r *Registry) Subscriber(id core.ConnID) (core.FeedSubscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Sub, true
	}
	return nil, false
}
