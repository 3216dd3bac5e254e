package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sanctumlive/sanctum/internal/adapters/signal"
	"github.com/sanctumlive/sanctum/internal/app"
	"github.com/sanctumlive/sanctum/internal/config"
	"github.com/sanctumlive/sanctum/internal/core"
	"github.com/sanctumlive/sanctum/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every browser a stable anonymous identity.
// This token is the participant ID; it survives socket reconnects.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type Deps struct {
	Sessions *app.SessionRegistry
	Audio    *app.AudioCoordinator
	Stream   *signal.StreamController
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("SanctumSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	// POST /api/sessions — create a sanctuary session; caller becomes host.
	api.POST("/sessions", func(c *gin.Context) {
		var req struct {
			Title                    string `json:"title"`
			MaxParticipants          int    `json:"max_participants"`
			ModerationLevel          string `json:"moderation_level"`
			RecordingConsentRequired bool   `json:"recording_consent_required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		maxP := req.MaxParticipants
		if maxP <= 0 {
			maxP = cfg.Session.MaxParticipants
		}
		actor, err := deps.Sessions.Create(domain.SessionConfig{
			HostID:                   domain.ParticipantID(c.GetString("client_token")),
			Title:                    req.Title,
			MaxParticipants:          maxP,
			ModerationLevel:          domain.ModerationLevel(req.ModerationLevel),
			RecordingConsentRequired: req.RecordingConsentRequired,
			TTL:                      cfg.Session.TTL,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_config"})
			return
		}
		c.JSON(http.StatusOK, actor.Session())
	})

	// GET /api/sessions — list live sessions with participant counts.
	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": deps.Sessions.List()})
	})

	// GET /api/sessions/:id — full snapshot (roster + breakout rooms).
	api.GET("/sessions/:id", func(c *gin.Context) {
		actor, ok := deps.Sessions.Get(domain.SessionID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		snap, err := actor.Snapshot()
		if err != nil {
			c.JSON(http.StatusGone, gin.H{"error": "session_ended"})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	// DELETE /api/sessions/:id — end a session. Host only.
	api.DELETE("/sessions/:id", func(c *gin.Context) {
		sid := domain.SessionID(c.Param("id"))
		actor, ok := deps.Sessions.Get(sid)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		if actor.Session().HostID != domain.ParticipantID(c.GetString("client_token")) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		deps.Sessions.Destroy(sid)
		c.Status(http.StatusNoContent)
	})

	// GET /api/sessions/:id/audit — moderation flags + emergency alerts,
	// read-only, hosts and moderators only.
	api.GET("/sessions/:id/audit", func(c *gin.Context) {
		actor, ok := deps.Sessions.Get(domain.SessionID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		flags, alerts, err := actor.AuditLog(domain.ParticipantID(c.GetString("client_token")))
		if err != nil {
			status := http.StatusForbidden
			if errors.Is(err, core.ErrNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": "forbidden"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"flags": flags, "alerts": alerts})
	})

	// POST /api/sessions/:id/token — issue/refresh a media join token.
	api.POST("/sessions/:id/token", func(c *gin.Context) {
		sid := domain.SessionID(c.Param("id"))
		if _, ok := deps.Sessions.Get(sid); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		pid := domain.ParticipantID(c.GetString("client_token"))
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		tok, err := deps.Audio.RequestJoinToken(reqCtx, sid, pid, domain.RoleListener)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "token_unavailable"})
			return
		}
		c.JSON(http.StatusOK, tok)
	})

	api.GET("/ws/stream", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("participant", c.GetString("client_token")).Msg("ws stream endpoint hit")
		deps.Stream.HandleStream(ctx, c)
	})

	return r
}
