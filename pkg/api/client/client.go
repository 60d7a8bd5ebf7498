package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Client provides typed access to the sitedrop API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// DeployResponse is the success payload of POST /api/deploy.
type DeployResponse struct {
	Success        bool   `json:"success"`
	URL            string `json:"url"`
	RemainingQuota int    `json:"remainingQuota"`
	Message        string `json:"message"`
}

// QuotaStatus is the response to a status probe.
type QuotaStatus struct {
	RemainingQuota   int   `json:"remainingQuota"`
	Cooldown         bool  `json:"cooldown"`
	RemainingSeconds int64 `json:"remainingSeconds"`
}

// Deployment is one deploy history entry.
type Deployment struct {
	ID        string    `json:"id"`
	SiteName  string    `json:"site_name"`
	URL       string    `json:"url"`
	FileName  string    `json:"file_name"`
	SizeBytes int64     `json:"size_bytes"`
	Status    string    `json:"status"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}

// Deploy uploads the file at path as a site named name.
func (c *Client) Deploy(ctx context.Context, name, path string) (DeployResponse, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return DeployResponse{}, fmt.Errorf("read upload file: %w", err)
	}
	body := map[string]string{
		"name":     name,
		"fileData": base64.StdEncoding.EncodeToString(raw),
		"fileName": filepath.Base(path),
	}
	var resp DeployResponse
	if err := c.do(ctx, http.MethodPost, "/api/deploy", body, &resp); err != nil {
		return DeployResponse{}, err
	}
	return resp, nil
}

// Status queries remaining quota and cooldown without deploying anything.
func (c *Client) Status(ctx context.Context) (QuotaStatus, error) {
	body := map[string]string{"name": "quota-check"}
	var resp QuotaStatus
	if err := c.do(ctx, http.MethodPost, "/api/deploy", body, &resp); err != nil {
		return QuotaStatus{}, err
	}
	return resp, nil
}

// Deployments lists recent deploy history.
func (c *Client) Deployments(ctx context.Context, limit int) ([]Deployment, error) {
	path := "/api/deployments"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp []Deployment
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	raw, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return ""
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		return strings.TrimSpace(string(raw))
	}
	return payload.Error
}
