package fsm

// Phase is the participant-local session phase.
type Phase int

const (
	Offline Phase = iota
	Discoverable
	SessionPrep
	SessionJoining
	SessionActive
	Teardown
)

var phaseNames = [...]string{
	Offline:        "OFFLINE",
	Discoverable:   "DISCOVERABLE",
	SessionPrep:    "SESSION_PREP",
	SessionJoining: "SESSION_JOINING",
	SessionActive:  "SESSION_ACTIVE",
	Teardown:       "TEARDOWN",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "UNKNOWN"
	}
	return phaseNames[p]
}

// InSession reports whether p holds session-scoped resources.
func (p Phase) InSession() bool {
	return p == SessionPrep || p == SessionJoining || p == SessionActive
}

// AllowsMedia reports whether media may be initialized in p.
func (p Phase) AllowsMedia() bool {
	return p == SessionPrep || p == SessionJoining
}
