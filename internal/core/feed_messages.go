package core

import (
	"encoding/json"

	"github.com/dkeye/Livecall/internal/domain"
)

// Invite feed message types.
const (
	FeedSubscribed    = "subscribed"
	FeedInviteCreated = "invite_created"
	FeedPing          = "ping"
	FeedPong          = "pong"
	FeedError         = "error"
)

// FeedMessage is the JSON envelope on the invite feed.
type FeedMessage struct {
	Type   string                `json:"type"`
	Invite *domain.SessionInvite `json:"invite,omitempty"`
	Error  string                `json:"error,omitempty"`
}

func (m FeedMessage) Frame() (Frame, error) {
	return json.Marshal(m)
}
