package handoff

import "sync/atomic"

// UnloadSuppressor is set right before a deliberate page-level redirect so
// unload cleanup handlers leave the just-created session and queue state alone.
type UnloadSuppressor struct {
	on atomic.Bool
}

func (s *UnloadSuppressor) Suppress()        { s.on.Store(true) }
func (s *UnloadSuppressor) Suppressed() bool { return s.on.Load() }
func (s *UnloadSuppressor) Reset()           { s.on.Store(false) }
