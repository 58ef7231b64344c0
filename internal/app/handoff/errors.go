package handoff

import "fmt"

// ChannelError reports a failed realtime subscription. Recovery is to run
// the consumer again, which re-runs cold-start reconciliation.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("invite channel %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
