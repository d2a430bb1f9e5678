package ingest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/webhook", VerifyHandler("verify-me"))
	r.POST("/webhook", ReceiveHandler(svc))
	return r
}

func TestVerifyHandler_Handshake(t *testing.T) {
	r := newRouter(nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "12345" {
		t.Fatalf("body = %q, want raw challenge", w.Body.String())
	}
}

func TestVerifyHandler_RejectsBadToken(t *testing.T) {
	r := newRouter(nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestReceiveHandler_AlwaysAcks(t *testing.T) {
	svc, store, _, _ := newTestService()
	r := newRouter(svc)

	body := `{
	  "object": "whatsapp_business_account",
	  "entry": [{"changes": [{"field": "calls", "value": {
	    "calls": [{"id": "wacid.h1", "from": "15557770001", "to": "` + lineNumber + `",
	               "status": "RINGING", "timestamp": "1717243200"}]
	  }}]}]
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if _, err := store.Get(req.Context(), "wacid.h1"); err != nil {
		t.Fatalf("event not ingested: %v", err)
	}

	// Malformed bodies are acked too; redelivery would not fix them.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("malformed body status = %d, want 200", w.Code)
	}
}
