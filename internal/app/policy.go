package app

import "github.com/dkeye/Livecall/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	DropSubscriber
)

// Policy decides what happens to a feed that could not take a frame.
type Policy interface {
	OnBackPressure(sub core.FeedSubscriber) BackpressureAction
}

// SimplePolicy drops the slow subscriber. The client notices the closed
// feed, resubscribes and catches up through the pending-invite query.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.FeedSubscriber) BackpressureAction {
	return DropSubscriber
}
