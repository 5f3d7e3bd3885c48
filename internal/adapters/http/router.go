// Package http wires the gin router: the WebSocket signal endpoint plus
// the thin token-guarded contacts/calls surface.
package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/echo-project/echo-signal/internal/adapters/signal"
	"github.com/echo-project/echo-signal/internal/app"
	"github.com/echo-project/echo-signal/internal/app/call"
	"github.com/echo-project/echo-signal/internal/auth"
	"github.com/echo-project/echo-signal/internal/config"
	"github.com/echo-project/echo-signal/internal/presence"
	"github.com/echo-project/echo-signal/internal/store"
)

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type Deps struct {
	Cfg      *config.Config
	Signal   *signal.Controller
	Store    store.Store
	CallLog  *call.Log
	Verifier auth.Verifier
	Limiter  *app.RateLimiter
	Presence presence.SetStore
}

func SetupRouter(ctx context.Context, d Deps) *gin.Engine {
	if d.Cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if d.Cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(d.Cfg.Secret))
	r.Use(sessions.Sessions("EchoSessions", cookieStore))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", d.Cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(d.Cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", d.Cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	api.GET("/ws/signal", func(c *gin.Context) {
		d.Signal.HandleSignal(ctx, c)
	})

	h := &Handlers{Store: d.Store, CallLog: d.CallLog, Limiter: d.Limiter, Presence: d.Presence}
	authed := api.Group("", BearerAuth(d.Verifier))
	authed.GET("/contacts", h.ListContacts)
	authed.POST("/contacts", h.UpsertContact)
	authed.DELETE("/contacts", h.DeleteContact)
	authed.GET("/online", h.Online)
	authed.GET("/messages", h.RecentMessages)
	authed.GET("/calls", h.RecentCalls)

	return r
}
