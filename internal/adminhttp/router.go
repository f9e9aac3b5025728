// Package adminhttp exposes the read-only operator surface of
// SPEC_FULL.md §D: a liveness probe, a meeting listing, a shared-secret
// login that sets a signed session cookie, and a cookie-gated websocket
// feed of meeting lifecycle events. Grounded on the teacher's
// internal/adapters/http.SetupRouter for the gin+sessions+cookie wiring
// and on internal/adapters/signal/io.go's writePump for the bounded-queue
// push idiom, generalized from signaling messages to lifecycle events.
package adminhttp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/confrelay/internal/config"
)

// LifecycleEvent mirrors control.LifecycleEvent without this package
// depending on internal/control directly; eventSource adapts between them.
type LifecycleEvent struct {
	Type          string `json:"type"`
	Code          string `json:"code"`
	ParticipantID uint32 `json:"participantId,omitempty"`
	Name          string `json:"name,omitempty"`
}

// MeetingView is one meeting's read-only summary for GET /api/meetings.
type MeetingView struct {
	Code         string   `json:"code"`
	HostName     string   `json:"hostName"`
	AdmittedIDs  []uint32 `json:"admittedIds"`
	WaitingCount int      `json:"waitingCount"`
	CreatedAt    int64    `json:"createdAt"`
}

// eventSource is the subset of *server.Server the admin surface reads,
// declared here so this package has no dependency on the composition
// root's own dependency graph.
type eventSource interface {
	AdminMeetings() []MeetingView
	AdminSubscribe() (<-chan LifecycleEvent, func())
}

const sessionCookieName = "confrelay_admin"
const sessionAuthKey = "authorized"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Admin is the operator-facing HTTP+WS server, run alongside the control
// and relay listeners.
type Admin struct {
	cfg    *config.Config
	src    eventSource
	engine *gin.Engine
}

func New(cfg *config.Config, src eventSource) *Admin {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.AdminSecret))
	r.Use(sessions.Sessions(sessionCookieName, store))

	a := &Admin{cfg: cfg, src: src, engine: r}

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.POST("/admin/login", a.handleLogin)

	admin := api.Group("")
	admin.Use(requireSession())
	admin.GET("/meetings", a.handleMeetings)
	admin.GET("/ws/events", a.handleEventsWS)

	return a
}

type loginRequest struct {
	Secret string `json:"secret"`
}

// handleLogin checks the shared secret (header or body) and, on success,
// sets the signed session cookie that gates every other admin route.
func (a *Admin) handleLogin(c *gin.Context) {
	secret := c.GetHeader("X-Admin-Secret")
	if secret == "" {
		var req loginRequest
		_ = c.ShouldBindJSON(&req)
		secret = req.Secret
	}
	if secret != a.cfg.AdminSecret {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	session := sessions.Default(c)
	session.Set(sessionAuthKey, true)
	if err := session.Save(); err != nil {
		log.Error().Err(err).Str("module", "adminhttp").Msg("session save failed")
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}

func requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		if ok, _ := session.Get(sessionAuthKey).(bool); !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func (a *Admin) handleMeetings(c *gin.Context) {
	c.JSON(http.StatusOK, a.src.AdminMeetings())
}

// Run blocks, serving the admin surface until ctx is canceled.
func (a *Admin) Run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.AdminPort)
	srv := &http.Server{Addr: addr, Handler: a.engine}

	go func() {
		log.Info().Str("module", "adminhttp").Str("addr", addr).Msg("admin surface started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("module", "adminhttp").Msg("admin server error")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("module", "adminhttp").Msg("admin shutdown forced")
	}
}
