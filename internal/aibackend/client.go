// Package aibackend talks to the external AI service that produces insights,
// answers chat questions and ingests receipts and voice notes.
package aibackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"finary/internal/core"
	"finary/internal/identity"
	"finary/internal/metrics"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	defaultTimeout = 30 * time.Second

	insightPath = "/api/v1/proactive-insight"
	chatPath    = "/api/v1/chat"
	scanPath    = "/api/v1/scan-receipt"
	voicePath   = "/api/v1/voice-entry"

	// maxErrorBody caps how much of a failed response is kept for the error message.
	maxErrorBody = 512
)

// Client handles communication with the AI backend
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client for baseURL, falling back to DefaultBaseURL when empty.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type insightResponse struct {
	Insight string `json:"insight"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Answer json.RawMessage `json:"answer"`
}

// ProactiveInsight fetches the personalized spending insight for ident.
func (c *Client) ProactiveInsight(ctx context.Context, ident identity.Identity) (string, error) {
	body, err := c.do(ctx, ident, http.MethodGet, insightPath, nil, "")
	if err != nil {
		return "", err
	}

	var resp insightResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode insight response: %w: %w", core.ErrTransport, err)
	}
	return resp.Insight, nil
}

// Chat sends message to the financial advisor and returns its answer as text.
func (c *Client) Chat(ctx context.Context, ident identity.Identity, message string) (string, error) {
	payload, err := json.Marshal(chatRequest{Message: message})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	body, err := c.do(ctx, ident, http.MethodPost, chatPath, bytes.NewReader(payload), "application/json")
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode chat response: %w: %w", core.ErrTransport, err)
	}
	return ParseAnswer(resp.Answer), nil
}

// ScanReceipt uploads a receipt image. The backend records the resulting
// transaction itself.
func (c *Client) ScanReceipt(ctx context.Context, ident identity.Identity, filename string, file io.Reader) error {
	return c.upload(ctx, ident, scanPath, filename, file)
}

// VoiceEntry uploads a voice recording describing a spend.
func (c *Client) VoiceEntry(ctx context.Context, ident identity.Identity, filename string, file io.Reader) error {
	return c.upload(ctx, ident, voicePath, filename, file)
}

func (c *Client) upload(ctx context.Context, ident identity.Identity, path, filename string, file io.Reader) error {
	if !ident.Valid() {
		return core.ErrUnauthenticated
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	_, err = c.do(ctx, ident, http.MethodPost, path, &buf, mw.FormDataContentType())
	return err
}

// do sends an authenticated request and returns the body of a 2xx response.
// No request leaves without both the bearer token and the user id header.
func (c *Client) do(ctx context.Context, ident identity.Identity, method, path string, body io.Reader, contentType string) ([]byte, error) {
	if !ident.Valid() {
		return nil, core.ErrUnauthenticated
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(identity.HeaderAuthorization, "Bearer "+ident.Token)
	req.Header.Set(identity.HeaderUserID, ident.UserID)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.AIBackendRequests.WithLabelValues(path, "error").Inc()
		return nil, fmt.Errorf("%s %s: %w: %w", method, path, core.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.AIBackendRequests.WithLabelValues(path, "error").Inc()
		return nil, fmt.Errorf("read %s response: %w: %w", path, core.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.AIBackendRequests.WithLabelValues(path, "error").Inc()
		snippet := strings.TrimSpace(string(respBody))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, fmt.Errorf("%s %s returned status %d: %w: %s", method, path, resp.StatusCode, core.ErrTransport, snippet)
	}

	metrics.AIBackendRequests.WithLabelValues(path, "ok").Inc()
	return respBody, nil
}
