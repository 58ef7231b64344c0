package http

import (
	"context"
	"path/filepath"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Livecall/internal/adapters/signal"
	"github.com/dkeye/Livecall/internal/app/orch"
	"github.com/dkeye/Livecall/internal/config"
	"github.com/dkeye/Livecall/internal/domain"
)

const (
	tokenCookie = "ct"
	tokenKey    = "client_token"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every caller a stable identity cookie. The
// token is the caller's user id.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(tokenCookie)
		if !domain.ValidUserID(domain.UserID(token)) {
			token = genClientToken()
			c.SetCookie(tokenCookie, token, 3600*24*7, "/", "", false, true)
		}
		c.Set(tokenKey, token)
		c.Next()
	}
}

func caller(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString(tokenKey))
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("LivecallSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(filepath.Join(cfg.StaticPath, "index.html"))
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handlers{orch: o, staticPath: cfg.StaticPath}
	r.GET("/session/:id", h.sessionPage)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	api.GET("/me", h.me)
	api.PUT("/me", h.updateMe)
	api.POST("/presence", h.presence)

	api.POST("/creators/:id/queue", h.joinQueue)
	api.GET("/queue", h.listQueue)
	api.GET("/queue/count", h.queueCount)
	api.PATCH("/queue/entries/:id", h.setFanState)
	api.DELETE("/queue/entries/:id", h.leaveQueue)

	api.POST("/sessions", h.createSession)
	api.GET("/sessions/:id", h.getSession)
	api.POST("/sessions/:id/end", h.endSession)

	api.GET("/invites/pending", h.pendingInvite)
	api.PATCH("/invites/:id", h.answerInvite)

	feed := signal.NewFeedWSController(o)
	if cfg.ReadLimit > 0 {
		feed.ReadLimit = cfg.ReadLimit
	}
	if cfg.PingPeriod > 0 {
		feed.PingPeriod = cfg.PingPeriod
	}
	if cfg.FeedBuffer > 0 {
		feed.Buffer = cfg.FeedBuffer
	}
	api.GET("/ws/feed", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("user", c.GetString(tokenKey)).Msg("ws feed endpoint hit")
		feed.HandleFeed(ctx, c)
	})

	return r
}
