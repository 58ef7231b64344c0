package media

import (
	"errors"
	"fmt"

	"github.com/dkeye/Livecall/internal/app/fsm"
)

var (
	// ErrMediaInitBlocked is returned when phases do not allow acquisition.
	ErrMediaInitBlocked = errors.New("media init blocked")
	// ErrTornDown is returned to init callers whose acquisition was overtaken by a teardown.
	ErrTornDown = errors.New("media torn down during init")
)

type BlockedError struct {
	SessionPhase fsm.Phase
	MediaPhase   Phase
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("media init blocked: session=%s media=%s", e.SessionPhase, e.MediaPhase)
}

func (e *BlockedError) Unwrap() error { return ErrMediaInitBlocked }

// AcquisitionError wraps a device or transport failure. The registry is left idle.
type AcquisitionError struct {
	Device string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Device, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }
