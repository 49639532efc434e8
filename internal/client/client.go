// Package client is the Go client of the qmpie HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"qmpie/internal/httpapi"
	"qmpie/internal/orchestrator"
)

// APIError is a non-2xx reply.
type APIError struct {
	Status  int
	Message string
	Details []httpapi.FieldIssue
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	adminToken string
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout. Final turns can take minutes.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithAdminToken sets the bearer token sent on administrative calls.
func WithAdminToken(token string) ClientOption {
	return func(client *Client) {
		client.adminToken = token
	}
}

func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Health(ctx context.Context) (httpapi.HealthResponse, error) {
	var out httpapi.HealthResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &out)
	return out, err
}

func (c *Client) Start(ctx context.Context, body httpapi.TurnBody) (orchestrator.Envelope, error) {
	var out orchestrator.Envelope
	err := c.doJSON(ctx, http.MethodPost, "/api/start", body, &out)
	return out, err
}

func (c *Client) Continue(ctx context.Context, body httpapi.SessionTurnBody) (orchestrator.Envelope, error) {
	var out orchestrator.Envelope
	err := c.doJSON(ctx, http.MethodPost, "/api/continue", body, &out)
	return out, err
}

func (c *Client) Final(ctx context.Context, body httpapi.SessionTurnBody) (orchestrator.Envelope, error) {
	var out orchestrator.Envelope
	err := c.doJSON(ctx, http.MethodPost, "/api/final", body, &out)
	return out, err
}

func (c *Client) Session(ctx context.Context, id string) (httpapi.SessionResponse, error) {
	var out httpapi.SessionResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Deliverable fetches the session's last deliverable as "md" or "html".
func (c *Client) Deliverable(ctx context.Context, id, format string) (string, error) {
	path := "/api/sessions/" + url.PathEscape(id) + "/deliverable?format=" + url.QueryEscape(format)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read deliverable: %w", err)
	}
	return string(data), nil
}

// ResetSession deletes the session on the server.
func (c *Client) ResetSession(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// do sends the request and turns error statuses into *APIError.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminToken != "" && method == http.MethodDelete {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		apiErr := &APIError{Status: resp.StatusCode}
		var payload httpapi.ErrorResponse
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
			apiErr.Message = payload.Message
			apiErr.Details = payload.Details
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return nil, apiErr
	}
	return resp, nil
}
