package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dasnai88/KTK-messedger-sub000/internal/adapters/signal"
	"github.com/dasnai88/KTK-messedger-sub000/internal/app/orch"
	"github.com/dasnai88/KTK-messedger-sub000/internal/config"
	"github.com/dasnai88/KTK-messedger-sub000/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// AuthMiddleware resolves the caller from a bearer header or, for browser
// websocket handshakes, a token query parameter.
func AuthMiddleware(authn core.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
		userID, err := authn.Authenticate(token)
		if err != nil {
			log.Info().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("auth rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(signal.UserKey, string(userID))
		c.Next()
	}
}

// InternalMiddleware guards the publish hooks called by the API backend.
// An empty token leaves the hooks open, which only makes sense in dev.
func InternalMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-Internal-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, authn core.Authenticator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": o.Registry.Count(), "calls": o.Calls.Active()})
	})

	ctrl := signal.NewSignalWSController(o, signal.NewEventRateLimiter(cfg.Rate.Limit, cfg.Rate.Interval), signal.Settings{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		WriteWait:    cfg.WriteWait,
		SendBuffer:   cfg.SendBuffer,
		StoreTimeout: cfg.StoreTimeout,
	})

	api := r.Group("/api", AuthMiddleware(authn))
	api.GET("/ws", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("user", c.GetString(signal.UserKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})
	api.GET("/presence", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"online": o.Presence.Snapshot()})
	})

	h := &hooks{orch: o, timeout: cfg.StoreTimeout}
	internal := r.Group("/internal", InternalMiddleware(cfg.Auth.InternalToken))
	internal.POST("/conversations/:id/messages", h.publishMessage)
	internal.POST("/conversations/:id/read", h.markRead)
	internal.POST("/posts", h.publishPost)
	internal.DELETE("/posts/:id", h.deletePost)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
