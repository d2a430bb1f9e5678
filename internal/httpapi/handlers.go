package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"whatsapp-calling/internal/auth"
	"whatsapp-calling/internal/calls"
	"whatsapp-calling/internal/missed"
	"whatsapp-calling/internal/permission"
	"whatsapp-calling/internal/whatsapp"
	"whatsapp-calling/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Perms    *permission.Service
	Missed   *missed.Service
	Calls    calls.Store
	Provider whatsapp.CallingProvider
	Slots    SlotLimiter
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
}

// --- Permissions ---

type permissionRequestBody struct {
	PhoneNumber string `json:"phone_number"`
}

func (h Handlers) RequestPermission(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req permissionRequestBody
	if err := c.ShouldBindJSON(&req); err != nil || req.PhoneNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number required"})
		return
	}

	p, err := h.Perms.Request(c.Request.Context(), userID, req.PhoneNumber)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h Handlers) GetPermission(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	phone := c.Param("phone_number")
	if phone == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number required"})
		return
	}

	p, err := h.Perms.Get(c.Request.Context(), userID, phone)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h Handlers) RevokePermission(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	phone := c.Param("phone_number")
	if phone == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number required"})
		return
	}

	p, err := h.Perms.Revoke(c.Request.Context(), userID, phone)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// --- Calls ---

type startCallRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// StartCall places an outbound call after the permission gate passes. The
// call record lands via the webhook feed, same as inbound calls.
func (h Handlers) StartCall(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PhoneNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number required"})
		return
	}

	if _, err := h.Perms.CheckCallAllowed(c.Request.Context(), userID, req.PhoneNumber); err != nil {
		writeError(c, err)
		return
	}

	callID, err := h.Provider.InitiateCall(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": callID})
}

func (h Handlers) GetCall(c *gin.Context) {
	callID := c.Param("call_id")
	call, err := h.Calls.Get(c.Request.Context(), callID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

type acceptCallRequest struct {
	SDPType string `json:"sdp_type"`
	SDP     string `json:"sdp"`
}

// AcceptCall submits the browser's SDP answer for a ringing call. An
// active-call slot is taken first; a line at capacity rejects the accept
// before the provider is touched.
func (h Handlers) AcceptCall(c *gin.Context) {
	callID := c.Param("call_id")
	var req acceptCallRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SDP == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "sdp required"})
		return
	}
	if req.SDPType == "" {
		req.SDPType = "answer"
	}

	ok, err := h.Slots.Acquire(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "line at active-call capacity"})
		return
	}

	if err := h.Provider.AcceptCall(c.Request.Context(), callID, req.SDPType, req.SDP); err != nil {
		if rerr := h.Slots.Release(c.Request.Context()); rerr != nil {
			logger.FromGin(c).Error("call slot release failed", "call_id", callID, "error", rerr)
		}
		writeError(c, err)
		return
	}

	// The accepted_at stamp marks this call as holding a slot; the webhook
	// feed releases it on the terminal transition. The call is already live,
	// so a failed stamp is logged, not surfaced.
	now := time.Now().UTC()
	if _, err := h.Calls.Mutate(c.Request.Context(), callID, func(call *calls.Call) error {
		call.AcceptedAt = &now
		return nil
	}); err != nil {
		logger.FromGin(c).Error("accept stamp failed", "call_id", callID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (h Handlers) RejectCall(c *gin.Context) {
	callID := c.Param("call_id")
	if err := h.Provider.RejectCall(c.Request.Context(), callID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

// TerminateCall asks the provider to end the call. The active-call slot is
// not released here: the provider confirms the end with a terminal webhook
// event, and the ingest path frees the slot on that transition whether the
// call ended from this console or from the remote side.
func (h Handlers) TerminateCall(c *gin.Context) {
	callID := c.Param("call_id")
	if err := h.Provider.TerminateCall(c.Request.Context(), callID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "terminated"})
}

// --- Missed calls ---

// ListMissedCalls returns the missed-call queue. ?pending=true narrows it to
// calls with no callback or follow-up yet.
func (h Handlers) ListMissedCalls(c *gin.Context) {
	pendingOnly := c.Query("pending") == "true"
	res, err := h.Missed.List(c.Request.Context(), pendingOnly)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) MissedCallback(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	callID := c.Param("call_id")

	outboundID, err := h.Missed.InitiateCallback(c.Request.Context(), userID, callID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": outboundID})
}

type followUpRequest struct {
	Message string `json:"message"`
}

func (h Handlers) MissedFollowUp(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	callID := c.Param("call_id")
	var req followUpRequest
	_ = c.ShouldBindJSON(&req) // empty body falls back to the stock text

	msgID, err := h.Missed.SendFollowUp(c.Request.Context(), userID, callID, req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": msgID})
}

func (h Handlers) MarkMissedHandled(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	call, err := h.Missed.MarkHandled(c.Request.Context(), userID, c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

type bulkHandledRequest struct {
	CallIDs []string `json:"call_ids"`
}

func (h Handlers) MarkMissedHandledBulk(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req bulkHandledRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.CallIDs) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_ids required"})
		return
	}

	handled, notFound, err := h.Missed.MarkHandledBulk(c.Request.Context(), userID, req.CallIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"handled": handled, "not_found": notFound})
}

func (h Handlers) MarkMissedViewed(c *gin.Context) {
	call, err := h.Missed.MarkViewed(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// writeError maps service sentinels onto HTTP statuses. Limit errors carry
// the quota counters so the console can explain the denial.
func writeError(c *gin.Context, err error) {
	var limitErr *permission.LimitError
	if errors.As(err, &limitErr) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":    "limit reached",
			"denial":   limitErr.Denial,
			"counters": limitErr.Counters,
		})
		return
	}

	var providerErr *whatsapp.ProviderError
	switch {
	case errors.Is(err, calls.ErrNotFound), errors.Is(err, permission.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, permission.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, missed.ErrNotMissedCall), errors.Is(err, missed.ErrAlreadyCompleted):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, permission.ErrDeliveryFailed):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "provider delivery failed"})
	case errors.As(err, &providerErr):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": providerErr.Message})
	default:
		logger.FromGin(c).Error("request failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
