package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/weiawesome/campaign-live/pkg/log"
	"github.com/weiawesome/campaign-live/pkg/response"
	"github.com/weiawesome/campaign-live/session-service/internal/audit"
	"github.com/weiawesome/campaign-live/session-service/internal/config"
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
	"github.com/weiawesome/campaign-live/session-service/internal/gate"
	"github.com/weiawesome/campaign-live/session-service/internal/hub"
)

// Authenticator resolves the credential on an upgrade request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (domain.Identity, error)
}

// EventRouter consumes inbound frames and cleans up after a session.
type EventRouter interface {
	Handle(c *hub.Client, raw []byte)
	Disconnect(c *hub.Client)
}

// AuthCounter counts refused upgrades.
type AuthCounter interface {
	AuthFailed(kind string)
}

type WSHandler struct {
	hub      *hub.Hub
	gate     Authenticator
	router   EventRouter
	counter  AuthCounter
	wsCfg    config.WebSocketConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, g Authenticator, r EventRouter, counter AuthCounter, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:     h,
		gate:    g,
		router:  r,
		counter: counter,
		wsCfg:   wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(wsCfg.AllowedOrigins),
		},
	}
}

// originChecker allows requests without an Origin header, and any origin
// when the list is empty or contains "*".
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// HandleWebSocket authenticates the request and only then upgrades it.
// Refused requests get a plain HTTP error and leave no session behind.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	ctx := c.Request.Context()
	identity, err := h.gate.Authenticate(ctx, c.Request)
	if err != nil {
		h.refuse(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, identity.UserID).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, identity, h.wsCfg)
	h.hub.Register(client)

	actx := log.With(context.Background(), log.FieldSessionID, client.ID)
	detail := fmt.Sprintf("ip=%s sessions=%d", c.ClientIP(), h.hub.UserSessionCount(identity.UserID))
	audit.LogWithDetail(actx, audit.ActionConnect, identity.UserID, detail, "session opened")

	go client.WritePump()
	go client.ReadPump(h.router.Handle, h.router.Disconnect)
}

func (h *WSHandler) refuse(c *gin.Context, err error) {
	kind := gate.KindOf(err)
	if kind == "" {
		kind = gate.UpstreamError
	}
	if h.counter != nil {
		h.counter.AuthFailed(string(kind))
	}
	audit.LogWithDetail(c.Request.Context(), audit.ActionAuthFailed, "", string(kind), "websocket upgrade refused")

	var f *gate.Failure
	if !errors.As(err, &f) {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("authentication failed unexpectedly")
		response.ServiceUnavailable(c, "authentication temporarily unavailable")
		return
	}
	if f.Kind == gate.UpstreamError {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(f.Err).Msg("identity lookup failed")
		response.ServiceUnavailable(c, f.Message())
		return
	}
	response.Unauthorized(c, f.Message())
}
