package api

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/quantdeck/assistant/internal/logging"
)

// SessionSummary describes one saved conversation.
type SessionSummary struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attachment is an uploaded file reference, ready to include in a message.
type Attachment struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// Client talks to the gateway's REST surface: session provisioning and
// attachment upload. Transient failures are retried by the underlying
// retryable transport.
type Client struct {
	resty *resty.Client
	log   *logging.Logger
}

// New creates a REST client for the gateway base URL.
func New(baseURL string, log *logging.Logger) *Client {
	if log == nil {
		log = logging.NewNop()
	}

	retry := retryablehttp.NewClient()
	retry.RetryMax = 3
	retry.RetryWaitMin = 500 * time.Millisecond
	retry.RetryWaitMax = 5 * time.Second
	retry.Logger = nil

	rc := resty.NewWithClient(retry.StandardClient()).
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{resty: rc, log: log.Named("api")}
}

// CreateSession provisions a new conversation for the given model and
// returns its id.
func (c *Client) CreateSession(ctx context.Context, model string) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}

	resp, err := c.request(ctx).
		SetBody(map[string]string{"model": model}).
		SetResult(&out).
		Post("/api/sessions")
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("create session: gateway returned %s", resp.Status())
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("create session: gateway returned no session id")
	}
	return out.SessionID, nil
}

// DeleteSession removes a conversation and its messages.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	resp, err := c.request(ctx).
		SetPathParam("id", sessionID).
		Delete("/api/sessions/{id}")
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("delete session: gateway returned %s", resp.Status())
	}
	return nil
}

// ListSessions returns summaries of all saved conversations.
func (c *Client) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	var out struct {
		Sessions []SessionSummary `json:"sessions"`
	}

	resp, err := c.request(ctx).
		SetResult(&out).
		Get("/api/sessions")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list sessions: gateway returned %s", resp.Status())
	}
	return out.Sessions, nil
}

// UploadAttachment uploads file data and returns the reference to embed in
// a message. Content type is sniffed from the data itself.
func (c *Client) UploadAttachment(ctx context.Context, filename string, data []byte) (Attachment, error) {
	var out Attachment

	contentType := mimetype.Detect(data).String()

	resp, err := c.request(ctx).
		SetFileReader("file", filename, bytes.NewReader(data)).
		SetMultipartField("content_type", "", "text/plain", bytes.NewReader([]byte(contentType))).
		SetResult(&out).
		Post("/api/attachments")
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to upload attachment: %w", err)
	}
	if resp.IsError() {
		return Attachment{}, fmt.Errorf("upload attachment: gateway returned %s", resp.Status())
	}
	return out, nil
}

// request builds a context-bound request with a fresh correlation id.
func (c *Client) request(ctx context.Context) *resty.Request {
	return c.resty.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", uuid.NewString())
}
