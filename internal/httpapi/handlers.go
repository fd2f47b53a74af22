package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"callhub/internal/auth"
	"callhub/internal/calls"
	"callhub/internal/rooms"
	"callhub/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls      *calls.Service
	Reconciler *calls.Reconciler
	// WebhookSecret is compared against the X-Webhook-Secret header of provider deliveries.
	WebhookSecret string
	Clock         func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// --- Calls ---

type startCallRequest struct {
	ChannelID string `json:"channel_id"`
	CallType  string `json:"call_type"`
}

// StartCall begins a call on a channel, or returns the ongoing one (200 instead of 201).
func (h Handlers) StartCall(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid json"})
		return
	}
	callType := calls.CallType(strings.ToLower(strings.TrimSpace(req.CallType)))

	view, created, err := h.Calls.BeginCall(c.Request.Context(), req.ChannelID, callType, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"success": true, "data": view})
}

func (h Handlers) JoinCall(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	view, err := h.Calls.JoinCall(c.Request.Context(), c.Param("call_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": view})
}

func (h Handlers) LeaveCall(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	view, err := h.Calls.LeaveCall(c.Request.Context(), c.Param("call_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": view})
}

func (h Handlers) EndCall(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	view, err := h.Calls.EndCall(c.Request.Context(), c.Param("call_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": view})
}

func (h Handlers) GetCall(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	view, err := h.Calls.GetCall(c.Request.Context(), c.Param("call_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": view})
}

func (h Handlers) StartRecording(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	view, err := h.Calls.StartRecording(c.Request.Context(), c.Param("call_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": view})
}

func (h Handlers) StopRecording(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	view, err := h.Calls.StopRecording(c.Request.Context(), c.Param("call_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": view})
}

// ActiveChannelCalls lists ongoing calls of a channel. Tokens are never included.
func (h Handlers) ActiveChannelCalls(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	views, active, err := h.Calls.ActiveChannelCalls(c.Request.Context(), c.Param("channel_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"calls": views, "is_active": active}})
}

// --- Provider webhooks ---

// ProviderWebhook verifies the shared secret and hands the event to the reconciler.
// Anything past the secret check is answered 200 so the provider does not retry-storm
// on events for sessions that already ended here.
func (h Handlers) ProviderWebhook(c *gin.Context) {
	log := logger.FromGin(c)
	if !rooms.VerifyWebhookSecret(c.GetHeader(rooms.WebhookSecretHeader), h.WebhookSecret) {
		log.Warn("webhook rejected: bad secret")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid webhook secret"})
		return
	}

	ev, err := rooms.ParseWebhook(c.Request, h.now())
	if err != nil {
		log.Warn("webhook payload rejected", "err", err)
		c.JSON(http.StatusOK, gin.H{"success": true, "outcome": "malformed"})
		return
	}

	outcome, err := h.Reconciler.Handle(c.Request.Context(), ev)
	if err != nil {
		log.Error("webhook reconcile failed", "event", ev.Kind, "room_id", ev.RoomID, "err", err)
		c.JSON(http.StatusOK, gin.H{"success": true, "outcome": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "outcome": outcome})
}

func requireUser(c *gin.Context) (string, bool) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthenticated"})
		return "", false
	}
	return userID, true
}

// writeError maps engine errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrValidation):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": "call not found"})
	case errors.Is(err, calls.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "only the host can do this"})
	case errors.Is(err, calls.ErrAlreadyJoined):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"success": false, "code": "already_joined", "error": "already in this call"})
	case errors.Is(err, calls.ErrNotActive):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "code": "not_active", "error": "not an active participant"})
	case errors.Is(err, calls.ErrProvider):
		logger.FromGin(c).Error("provider failure", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"success": false, "error": "media provider unavailable"})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
	}
}
