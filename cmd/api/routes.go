package main

import (
	"github.com/gin-gonic/gin"

	"whatsapp-calling/internal/auth"
	"whatsapp-calling/internal/httpapi"
	"whatsapp-calling/internal/ingest"
	"whatsapp-calling/internal/notify"
	"whatsapp-calling/internal/rbac"
)

type routeDeps struct {
	auth        *auth.Manager
	handlers    httpapi.Handlers
	registry    *notify.Registry
	ingest      *ingest.Service
	verifyToken string
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	h := deps.handlers

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks: GET is the subscription handshake, POST the event
	// feed. Rate limited per IP; the payload itself is trusted only as far as
	// the verify token handshake goes.
	webhook := r.Group("/webhooks/whatsapp")
	webhook.Use(httpapi.RateLimit(20, 40))
	{
		webhook.GET("", ingest.VerifyHandler(deps.verifyToken))
		webhook.POST("", ingest.ReceiveHandler(deps.ingest))
	}

	v1 := r.Group("/api/v1")

	// Token issuance is the only unauthenticated API route.
	v1.POST("/auth/login", h.Login)

	protected := v1.Group("")
	protected.Use(auth.RequireAccessToken(deps.auth, false))
	{
		protected.GET("/me", h.Me)

		perms := protected.Group("/permissions")
		perms.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent))
		{
			perms.POST("/request", h.RequestPermission)
			perms.GET("/:phone_number", h.GetPermission)
			perms.POST("/:phone_number/revoke", h.RevokePermission)
		}

		calls := protected.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent))
		{
			calls.POST("/start", h.StartCall)
			calls.GET("/:call_id", h.GetCall)
			calls.POST("/:call_id/accept", h.AcceptCall)
			calls.POST("/:call_id/reject", h.RejectCall)
			calls.POST("/:call_id/terminate", h.TerminateCall)
		}

		missedCalls := protected.Group("/missed-calls")
		missedCalls.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent))
		{
			missedCalls.GET("", h.ListMissedCalls)
			missedCalls.POST("/:call_id/callback", h.MissedCallback)
			missedCalls.POST("/:call_id/follow-up", h.MissedFollowUp)
			missedCalls.POST("/:call_id/handled", h.MarkMissedHandled)
			missedCalls.POST("/:call_id/viewed", h.MarkMissedViewed)
		}

		// Bulk close-out sweeps whole queues; owner or admin only.
		protected.POST("/missed-calls/handled",
			rbac.RequireAnyRole(rbac.RoleOwner), h.MarkMissedHandledBulk)
	}

	// The notification stream authenticates via query parameter because
	// EventSource cannot set headers.
	v1.GET("/notifications/stream",
		auth.RequireAccessToken(deps.auth, true),
		notify.SSEHandler(deps.registry))
}
