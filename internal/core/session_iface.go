package core

import "github.com/dkeye/Livecall/internal/domain"

// ConnID identifies one realtime feed connection.
type ConnID string

// FeedSubscriber binds a user to its realtime transport endpoint.
// This is what the feed registry stores and fans out to.
type FeedSubscriber interface {
	User() domain.UserID
	Signal() SignalConnection
}

type feedSubscriber struct {
	user domain.UserID
	conn SignalConnection
}

func NewFeedSubscriber(user domain.UserID, conn SignalConnection) FeedSubscriber {
	return &feedSubscriber{user: user, conn: conn}
}

func (s *feedSubscriber) User() domain.UserID      { return s.user }
func (s *feedSubscriber) Signal() SignalConnection { return s.conn }
