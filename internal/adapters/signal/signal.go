// Package signal serves the realtime invite feed over WebSocket.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/app/orch"
	"github.com/dkeye/Livecall/internal/core"
	"github.com/dkeye/Livecall/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const (
	DefaultReadLimit  = 4096
	DefaultPingPeriod = 25 * time.Second
	DefaultBuffer     = 16
	writeWait         = 5 * time.Second
)

type FeedWSController struct {
	Orch       *orch.Orchestrator
	ReadLimit  int64
	PingPeriod time.Duration
	Buffer     int
}

func NewFeedWSController(o *orch.Orchestrator) *FeedWSController {
	return &FeedWSController{
		Orch:       o,
		ReadLimit:  DefaultReadLimit,
		PingPeriod: DefaultPingPeriod,
		Buffer:     DefaultBuffer,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleFeed upgrades the request and streams invites addressed to the
// caller. The first frame is always {"type":"subscribed"}.
func (ctl *FeedWSController) HandleFeed(ctx context.Context, c *gin.Context) {
	user := domain.UserID(c.GetString("client_token"))
	if _, err := ctl.Orch.Me(c.Request.Context(), user); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("user", string(user)).Msg("feed identity")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.ReadLimit)

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Buffer),
	}
	id := core.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("user", string(user)).Str("conn", string(id)).Msg("new feed connection")

	ctl.sendJSON(conn, core.FeedMessage{Type: core.FeedSubscribed})

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Feeds.Bind(id, core.NewFeedSubscriber(user, conn), cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, id, conn)
}
