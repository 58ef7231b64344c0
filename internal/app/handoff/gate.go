package handoff

import (
	"context"
	"sync"
)

// Gate is a boolean precondition that actions can wait on, such as the page
// being visible.
type Gate struct {
	mu   sync.Mutex
	open bool
	ch   chan struct{}
}

func NewGate(open bool) *Gate {
	g := &Gate{ch: make(chan struct{})}
	g.Set(open)
	return g
}

func (g *Gate) Set(open bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if open == g.open {
		return
	}
	g.open = open
	if open {
		close(g.ch)
	} else {
		g.ch = make(chan struct{})
	}
}

func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Wait blocks until the gate is open or ctx ends.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Then runs fn once the gate opens. Cancelling ctx drops the action.
func (g *Gate) Then(ctx context.Context, fn func()) {
	go func() {
		if err := g.Wait(ctx); err != nil {
			return
		}
		fn()
	}()
}
