package notify

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"whatsapp-calling/internal/auth"
	"whatsapp-calling/pkg/logger"
)

// SSEHandler streams the authenticated user's events as server-sent events.
// Each event is one frame: "data: <json>\n\n". The stream stays open until
// the client disconnects.
func SSEHandler(reg *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := auth.UserID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
			return
		}

		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Writer.WriteHeader(http.StatusOK)
		flusher.Flush()

		log := logger.FromGin(c)
		session := reg.Register(userID)
		defer reg.Unregister(session)
		log.Debug("notify: stream open", "user_id", userID)

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				log.Debug("notify: stream closed", "user_id", userID)
				return
			case ev, ok := <-session.Events():
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					log.Error("notify: encode event", "type", ev.Type, "error", err)
					continue
				}
				if _, err := c.Writer.Write([]byte("data: ")); err != nil {
					return
				}
				if _, err := c.Writer.Write(data); err != nil {
					return
				}
				if _, err := c.Writer.Write([]byte("\n\n")); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
