package domain

import (
	"errors"
	"time"
)

type (
	SessionID string
	InviteID  string
)

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Session pairs one creator with one fan. Ended is terminal.
type Session struct {
	ID        SessionID     `json:"id"`
	CreatorID UserID        `json:"creator_id"`
	FanID     UserID        `json:"fan_id"`
	EntryID   QueueEntryID  `json:"queue_entry_id"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteDeclined InviteStatus = "declined"
	InviteExpired  InviteStatus = "expired"
)

func (s InviteStatus) Valid() bool {
	switch s {
	case InvitePending, InviteAccepted, InviteDeclined, InviteExpired:
		return true
	}
	return false
}

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInviteNotPending  = errors.New("invite is not pending")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// SessionInvite tells one fan a session now exists for them.
type SessionInvite struct {
	ID            InviteID     `json:"id"`
	SessionID     SessionID    `json:"session_id"`
	InviteeID     UserID       `json:"invitee_id"`
	Status        InviteStatus `json:"status"`
	CreatorName   string       `json:"creator_name"`
	CreatorAvatar string       `json:"creator_avatar,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
}

func (i SessionInvite) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// ErrRateLimited is returned when a creator starts sessions too quickly.
var ErrRateLimited = errors.New("rate limited")
