package ollama

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

const (
	probeTimeout     = 10 * time.Second
	requestTimeout   = 60 * time.Second
	streamingTimeout = 300 * time.Second
)

// Message represents a chat message in the Ollama API format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Model is a single model descriptor as returned by GET /api/tags.
type Model struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       string `json:"size"`
	Digest     string `json:"digest"`
}

// ChatRequest is the JSON body for POST /api/chat.
type ChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

// GenerateRequest is the JSON body for POST /api/generate.
type GenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// StatusError is returned when the backend answers with a non-2xx status.
// The message body is passed through verbatim for operator diagnosis.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// Client communicates with an Ollama-compatible server over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// BaseURL returns the URL this client is bound to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping reports whether the server answers GET /api/version with a valid
// body within the probe timeout. Timeout, connection refused, non-2xx and
// malformed bodies all count as not reachable.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}

	var version struct {
		Version string `json:"version"`
	}
	return json.NewDecoder(resp.Body).Decode(&version) == nil
}

// tagsResponse mirrors the JSON returned by GET /api/tags.
type tagsResponse struct {
	Models []Model `json:"models"`
}

// ListModels returns all models available on the server.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting model list: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return tags.Models, nil
}

// Chat sends a non-streaming chat request and returns the complete response body.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (json.RawMessage, error) {
	req.Stream = false
	return c.postJSON(ctx, "/api/chat", req)
}

// ChatStream opens a streaming chat call. The returned body is a sequence of
// newline-delimited JSON chunks; the caller must close it.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	req.Stream = true
	return c.postStream(ctx, "/api/chat", req)
}

// Generate sends a non-streaming generate request and returns the complete
// response body.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (json.RawMessage, error) {
	req.Stream = false
	return c.postJSON(ctx, "/api/generate", req)
}

// GenerateStream opens a streaming generate call. The caller must close the
// returned body.
func (c *Client) GenerateStream(ctx context.Context, req GenerateRequest) (io.ReadCloser, error) {
	req.Stream = true
	return c.postStream(ctx, "/api/generate", req)
}

// Embeddings requests embedding vectors via POST /api/embed. The request is
// forwarded as-is and the response returned verbatim.
func (c *Client) Embeddings(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	return c.postJSON(ctx, "/api/embed", body)
}

// manageRoutes maps model management operations to their API method and path.
var manageRoutes = map[string]struct {
	method string
	path   string
}{
	"create": {http.MethodPost, "/api/create"},
	"delete": {http.MethodDelete, "/api/delete"},
	"copy":   {http.MethodPost, "/api/copy"},
	"show":   {http.MethodPost, "/api/show"},
	"pull":   {http.MethodPost, "/api/pull"},
	"push":   {http.MethodPost, "/api/push"},
}

// ManageModel performs a model management operation (create, delete, copy,
// show, pull, push), forwarding params verbatim and returning the raw
// response body.
func (c *Client) ManageModel(ctx context.Context, op string, params json.RawMessage) (json.RawMessage, error) {
	route, ok := manageRoutes[op]
	if !ok {
		return nil, fmt.Errorf("unknown model operation %q", op)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, route.method, c.baseURL+route.path, bytes.NewReader(params))
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", op, err)
	}
	if len(body) == 0 {
		body = []byte(`{"status":"success"}`)
	}
	return body, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return raw, nil
}

func (c *Client) postStream(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, streamingTimeout)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	// Wrap the body so the timeout context cancel is called when the caller closes it.
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
