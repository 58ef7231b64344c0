package domain

import (
	"fmt"
	"slices"
	"time"
)

type QueueEntryID string

// FanState is the readiness of a fan waiting in a creator's queue.
type FanState string

const (
	FanWaiting         FanState = "waiting"
	FanAwaitingConsent FanState = "awaiting_consent"
	FanReady           FanState = "ready"
	FanDeclined        FanState = "declined"
	FanInCall          FanState = "in_call"
)

func (s FanState) Valid() bool {
	switch s {
	case FanWaiting, FanAwaitingConsent, FanReady, FanDeclined, FanInCall:
		return true
	}
	return false
}

// NotReadyReason is the one place the human-readable reasons live. Both the
// creator's precondition check and the server's rejection map through it.
func (s FanState) NotReadyReason() string {
	switch s {
	case FanWaiting:
		return "This fan is still waiting in line and hasn't been asked to join yet."
	case FanAwaitingConsent:
		return "This fan hasn't confirmed they're ready yet. Give them a moment."
	case FanDeclined:
		return "This fan declined the call. Pick someone else from your queue."
	case FanInCall:
		return "This fan is already in a call."
	case FanReady:
		return ""
	}
	return "This fan isn't ready for a call."
}

type QueueEntry struct {
	ID        QueueEntryID `json:"id"`
	CreatorID UserID       `json:"creator_id"`
	FanID     UserID       `json:"fan_id"`
	FanName   string       `json:"fan_name"`
	FanState  FanState     `json:"fan_state"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NotReadyError reports that a session cannot start because the fan is not
// in the ready state. It is code fan_not_ready on the wire.
type NotReadyError struct {
	State FanState
}

const CodeFanNotReady = "fan_not_ready"

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s: %s", CodeFanNotReady, e.State)
}

// Reason returns the human-readable explanation for the sub-state.
func (e *NotReadyError) Reason() string { return e.State.NotReadyReason() }

// CheckReady returns a *NotReadyError unless the entry's fan is ready.
func (q QueueEntry) CheckReady() error {
	if q.FanState == FanReady {
		return nil
	}
	return &NotReadyError{State: q.FanState}
}

var fanMoves = map[FanState][]FanState{
	FanWaiting:         {FanAwaitingConsent, FanDeclined},
	FanAwaitingConsent: {FanReady, FanDeclined},
	FanReady:           {FanDeclined},
	FanDeclined:        {FanWaiting},
}

// CanMoveTo reports whether the consent flow allows s -> next. Entering
// in_call happens only through session creation.
func (s FanState) CanMoveTo(next FanState) bool {
	return slices.Contains(fanMoves[s], next)
}
