package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v21.0"

// GraphClient talks to the Meta Graph API for one business line.
type GraphClient struct {
	httpClient    *http.Client
	baseURL       string
	accessToken   string
	phoneNumberID string
}

func NewGraphClient(baseURL, accessToken, phoneNumberID string, timeout time.Duration) *GraphClient {
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GraphClient{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       strings.TrimRight(baseURL, "/"),
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
	}
}

// ProviderError is a non-2xx Graph API response.
type ProviderError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("graph api: %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

type graphErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type messagesResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type callsResponse struct {
	Calls []struct {
		ID string `json:"id"`
	} `json:"calls"`
	Success bool `json:"success"`
}

func (c *GraphClient) InitiateCall(ctx context.Context, to string) (string, error) {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"action":            "connect",
	}
	var resp callsResponse
	if err := c.post(ctx, "calls", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Calls) == 0 || resp.Calls[0].ID == "" {
		return "", fmt.Errorf("graph api: connect response missing call id")
	}
	return resp.Calls[0].ID, nil
}

func (c *GraphClient) AcceptCall(ctx context.Context, callID, sdpType, sdp string) error {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"call_id":           callID,
		"action":            "accept",
		"session": map[string]any{
			"sdp_type": sdpType,
			"sdp":      sdp,
		},
	}
	return c.post(ctx, "calls", body, &callsResponse{})
}

func (c *GraphClient) RejectCall(ctx context.Context, callID string) error {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"call_id":           callID,
		"action":            "reject",
	}
	return c.post(ctx, "calls", body, &callsResponse{})
}

func (c *GraphClient) TerminateCall(ctx context.Context, callID string) error {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"call_id":           callID,
		"action":            "terminate",
	}
	return c.post(ctx, "calls", body, &callsResponse{})
}

func (c *GraphClient) SendPermissionRequest(ctx context.Context, to string) (string, error) {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type": "call_permission_request",
			"body": map[string]any{
				"text": "We would like to call you regarding your inquiry.",
			},
		},
	}
	var resp messagesResponse
	if err := c.post(ctx, "messages", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return "", fmt.Errorf("graph api: send response missing message id")
	}
	return resp.Messages[0].ID, nil
}

func (c *GraphClient) SendText(ctx context.Context, to, body string) (string, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text": map[string]any{
			"body": body,
		},
	}
	var resp messagesResponse
	if err := c.post(ctx, "messages", payload, &resp); err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return "", fmt.Errorf("graph api: send response missing message id")
	}
	return resp.Messages[0].ID, nil
}

func (c *GraphClient) post(ctx context.Context, resource string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("graph api: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s", c.baseURL, c.phoneNumberID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph api: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("graph api: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env graphErrorEnvelope
		_ = json.Unmarshal(data, &env)
		return &ProviderError{
			StatusCode: resp.StatusCode,
			Code:       env.Error.Code,
			Message:    env.Error.Message,
		}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("graph api: decode response: %w", err)
		}
	}
	return nil
}
