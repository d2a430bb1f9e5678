package ingest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"whatsapp-calling/internal/whatsapp"
	"whatsapp-calling/pkg/logger"
)

// VerifyHandler answers the provider's webhook subscription handshake: a GET
// with hub.mode=subscribe and a matching hub.verify_token is echoed back the
// hub.challenge as plain text.
func VerifyHandler(verifyToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		mode := c.Query("hub.mode")
		token := c.Query("hub.verify_token")
		challenge := c.Query("hub.challenge")

		if mode != "subscribe" || token == "" || token != verifyToken {
			c.String(http.StatusForbidden, "verification failed")
			return
		}
		c.String(http.StatusOK, challenge)
	}
}

// ReceiveHandler accepts webhook batches. The response is 200 regardless of
// per-event processing results; the provider redelivers on non-2xx and a
// poison event would otherwise loop forever.
func ReceiveHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload whatsapp.WebhookPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			logger.FromGin(c).Warn("ingest: malformed webhook body", "error", err)
			c.Status(http.StatusOK)
			return
		}

		svc.ProcessWebhook(c.Request.Context(), payload)
		c.Status(http.StatusOK)
	}
}
