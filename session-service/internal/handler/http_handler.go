package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"
	"github.com/weiawesome/campaign-live/pkg/log"
	"github.com/weiawesome/campaign-live/pkg/middleware"
	"github.com/weiawesome/campaign-live/pkg/response"
	"github.com/weiawesome/campaign-live/session-service/internal/campaign"
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
	"github.com/weiawesome/campaign-live/session-service/internal/presence"
	"github.com/weiawesome/campaign-live/session-service/internal/repository"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// RosterManager changes campaign membership.
type RosterManager interface {
	Create(ctx context.Context, campaignID, name, gmUserID string) error
	Add(ctx context.Context, campaignID, userID string) error
	Remove(ctx context.Context, campaignID, userID string) error
}

type breakerState struct {
	name  string
	state func() gobreaker.State
}

type HTTPHandler struct {
	oracle   campaign.Oracle
	messages repository.MessageStore
	presence *presence.Tracker
	roster   RosterManager
	breakers []breakerState
	sessions func() int
	nodeID   string
}

func NewHTTPHandler(oracle campaign.Oracle, messages repository.MessageStore, tracker *presence.Tracker, sessions func() int, nodeID string) *HTTPHandler {
	return &HTTPHandler{
		oracle:   oracle,
		messages: messages,
		presence: tracker,
		sessions: sessions,
		nodeID:   nodeID,
	}
}

// WithRoster enables the campaign membership routes.
func (h *HTTPHandler) WithRoster(r RosterManager) *HTTPHandler {
	h.roster = r
	return h
}

// WithBreaker reports a circuit breaker's state on /health.
func (h *HTTPHandler) WithBreaker(name string, state func() gobreaker.State) *HTTPHandler {
	h.breakers = append(h.breakers, breakerState{name: name, state: state})
	return h
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine, requireAuth gin.HandlerFunc) {
	api := r.Group("/api/v1", requireAuth)
	{
		api.GET("/campaigns/:campaign_id/messages", h.GetMessages)
		api.GET("/campaigns/:campaign_id/presence", h.GetPresence)
		if h.roster != nil {
			api.POST("/campaigns", h.CreateCampaign)
			api.PUT("/campaigns/:campaign_id/members/:user_id", h.AddMember)
			api.DELETE("/campaigns/:campaign_id/members/:user_id", h.RemoveMember)
		}
	}

	r.GET("/health", h.HealthCheck)
}

// memberRoom resolves the addressed room and checks the caller belongs to
// its campaign. It writes the error response itself.
func (h *HTTPHandler) memberRoom(c *gin.Context) (domain.RoomKey, bool) {
	key, err := domain.NewRoomKey(c.Param("campaign_id"), c.Query("room"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return domain.RoomKey{}, false
	}

	userID := middleware.GetUserID(c)
	ok, err := h.oracle.IsMember(c.Request.Context(), key.CampaignID, userID)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str(log.FieldCampaignID, key.CampaignID).Msg("membership check failed")
		response.ServiceUnavailable(c, "campaign service unavailable")
		return domain.RoomKey{}, false
	}
	if !ok {
		response.Forbidden(c, "not a member of this campaign")
		return domain.RoomKey{}, false
	}
	return key, true
}

func (h *HTTPHandler) GetMessages(c *gin.Context) {
	limit := defaultLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxLimit)
	}

	key, ok := h.memberRoom(c)
	if !ok {
		return
	}

	msgs, err := h.messages.Recent(c.Request.Context(), key, limit)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str(log.FieldRoom, key.String()).Msg("failed to load messages")
		response.InternalError(c, "failed to get messages")
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	response.SuccessList(c, msgs, len(msgs))
}

func (h *HTTPHandler) GetPresence(c *gin.Context) {
	key, ok := h.memberRoom(c)
	if !ok {
		return
	}
	users := h.presence.OnlineUsers(key)
	response.SuccessList(c, users, len(users))
}

type createCampaignRequest struct {
	ID   string `json:"id" binding:"required,max=64"`
	Name string `json:"name" binding:"required,max=200"`
}

type memberResponse struct {
	CampaignID string `json:"campaign_id"`
	UserID     string `json:"user_id"`
}

// CreateCampaign registers a campaign with the caller as its GM.
func (h *HTTPHandler) CreateCampaign(c *gin.Context) {
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "id and name are required")
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.roster.Create(c.Request.Context(), req.ID, req.Name, userID); err != nil {
		if errors.Is(err, campaign.ErrCampaignExists) {
			response.Conflict(c, "campaign already exists")
			return
		}
		h.rosterFailed(c, req.ID, err)
		return
	}
	response.Created(c, gin.H{"id": req.ID, "name": req.Name, "gm_user_id": userID})
}

func (h *HTTPHandler) AddMember(c *gin.Context) {
	campaignID, ok := h.requireGM(c)
	if !ok {
		return
	}
	userID := c.Param("user_id")
	if err := h.roster.Add(c.Request.Context(), campaignID, userID); err != nil {
		h.rosterFailed(c, campaignID, err)
		return
	}
	response.Success(c, memberResponse{CampaignID: campaignID, UserID: userID})
}

func (h *HTTPHandler) RemoveMember(c *gin.Context) {
	campaignID, ok := h.requireGM(c)
	if !ok {
		return
	}
	userID := c.Param("user_id")
	if err := h.roster.Remove(c.Request.Context(), campaignID, userID); err != nil {
		if errors.Is(err, campaign.ErrRemoveGM) {
			response.BadRequest(c, err.Error())
			return
		}
		h.rosterFailed(c, campaignID, err)
		return
	}
	response.Success(c, memberResponse{CampaignID: campaignID, UserID: userID})
}

// requireGM checks the caller is the addressed campaign's GM. It writes
// the error response itself.
func (h *HTTPHandler) requireGM(c *gin.Context) (string, bool) {
	campaignID := c.Param("campaign_id")
	gm, err := h.oracle.GMUserID(c.Request.Context(), campaignID)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str(log.FieldCampaignID, campaignID).Msg("gm lookup failed")
		response.ServiceUnavailable(c, "campaign service unavailable")
		return "", false
	}
	if gm == "" {
		response.NotFound(c, "campaign not found")
		return "", false
	}
	if gm != middleware.GetUserID(c) {
		response.Forbidden(c, "only the gm can change the roster")
		return "", false
	}
	return campaignID, true
}

func (h *HTTPHandler) rosterFailed(c *gin.Context, campaignID string, err error) {
	if errors.Is(err, campaign.ErrCampaignMissing) {
		response.NotFound(c, "campaign not found")
		return
	}
	l := log.Ctx(c.Request.Context())
	l.Error().Err(err).Str(log.FieldCampaignID, campaignID).Msg("roster change failed")
	response.InternalError(c, "failed to update campaign")
}

// HealthCheck reports "degraded" while any registered breaker is open.
func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	status := "ok"
	breakers := make(map[string]string, len(h.breakers))
	for _, b := range h.breakers {
		st := b.state()
		breakers[b.name] = st.String()
		if st == gobreaker.StateOpen {
			status = "degraded"
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"node_id":  h.nodeID,
		"sessions": h.sessions(),
		"breakers": breakers,
	})
}
