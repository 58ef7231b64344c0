package media

import "github.com/dkeye/Livecall/internal/app/fsm"

// Phase is the lifecycle of locally held media resources.
type Phase int

const (
	Idle Phase = iota
	Active
	Ending
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Ending:
		return "ending"
	}
	return "unknown"
}

// CanInitMedia reports whether devices may be acquired for the given phases.
func CanInitMedia(sp fsm.Phase, mp Phase) bool {
	return sp.AllowsMedia() && mp != Ending
}
