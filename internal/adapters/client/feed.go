package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/Livecall/internal/app/handoff"
	"github.com/dkeye/Livecall/internal/core"
	"github.com/dkeye/Livecall/internal/domain"
)

const feedWriteWait = 5 * time.Second

// feedSub is one open invite feed.
type feedSub struct {
	conn   *websocket.Conn
	active chan struct{}
	events chan domain.SessionInvite

	mu   sync.Mutex
	err  error
	once sync.Once
}

// Subscribe opens the invite feed. The server only sends invites addressed
// to the cookie identity, so invitee is used for logging.
func (c *Client) Subscribe(ctx context.Context, invitee domain.UserID) (handoff.Subscription, error) {
	u := *c.base
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path += "/api/ws/feed"

	dialer := websocket.Dialer{Jar: c.jar, HandshakeTimeout: defaultTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	s := &feedSub{
		conn:   conn,
		active: make(chan struct{}),
		events: make(chan domain.SessionInvite, 8),
	}
	c.logger.Info().Str("invitee", string(invitee)).Msg("invite feed connected")
	go s.readLoop(ctx)
	return s, nil
}

func (s *feedSub) readLoop(ctx context.Context) {
	defer close(s.events)
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	activated := false
	for {
		var msg core.FeedMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				s.setErr(err)
			}
			return
		}
		switch msg.Type {
		case core.FeedSubscribed:
			if !activated {
				activated = true
				close(s.active)
			}
		case core.FeedInviteCreated:
			if msg.Invite == nil {
				continue
			}
			select {
			case s.events <- *msg.Invite:
			case <-ctx.Done():
				return
			}
		case core.FeedError:
			s.setErr(errors.New("feed error: " + msg.Error))
			return
		}
	}
}

func (s *feedSub) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *feedSub) Active() <-chan struct{}             { return s.active }
func (s *feedSub) Events() <-chan domain.SessionInvite { return s.events }

func (s *feedSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *feedSub) Close() error {
	var err error
	s.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(feedWriteWait))
		err = s.conn.Close()
	})
	return err
}
