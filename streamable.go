package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tmaxmax/go-sse"
)

// sessionIDHeader carries the server-issued session identifier on streamable
// HTTP connections.
const sessionIDHeader = "Mcp-Session-Id"

// StreamableHTTPClient implements the streamable HTTP Transport. Every
// protocol call is one HTTP POST; the server answers either with a direct JSON
// body or with a single-shot event stream whose last "message" event carries
// the result. A session identifier issued by the server is echoed on every
// subsequent request once observed.
//
// The client keeps no background task; calls are synchronous. Overlapping
// calls from multiple goroutines are not coordinated beyond the session
// identifier and should be externally serialized.
type StreamableHTTPClient struct {
	name       string
	url        string
	headers    map[string]string
	logger     *slog.Logger
	httpClient *http.Client

	mu        sync.Mutex
	sessionID string
}

// StreamableHTTPClientOption represents the options for the StreamableHTTPClient.
type StreamableHTTPClientOption func(*StreamableHTTPClient)

// WithStreamableHeaders sets extra headers sent on every request.
func WithStreamableHeaders(headers map[string]string) StreamableHTTPClientOption {
	return func(c *StreamableHTTPClient) {
		c.headers = headers
	}
}

// WithStreamableTimeout sets the HTTP timeout for every request.
func WithStreamableTimeout(timeout time.Duration) StreamableHTTPClientOption {
	return func(c *StreamableHTTPClient) {
		c.httpClient.Timeout = timeout
	}
}

// WithStreamableLogger sets the logger for the client.
func WithStreamableLogger(logger *slog.Logger) StreamableHTTPClientOption {
	return func(c *StreamableHTTPClient) {
		c.logger = logger
	}
}

// NewStreamableHTTPClient creates a streamable HTTP client for the server
// named name at url. Unlike ConnectSSE it performs no network activity; the
// first round trip happens on Initialize.
func NewStreamableHTTPClient(name, url string, options ...StreamableHTTPClientOption) *StreamableHTTPClient {
	c := &StreamableHTTPClient{
		name:       name,
		url:        url,
		logger:     slog.Default(),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Initialize performs the MCP handshake.
func (c *StreamableHTTPClient) Initialize(ctx context.Context) error {
	return initializeSession(ctx, c, Info{Name: "MCP Streamable HTTP Client", Version: "1.0.0"})
}

// ListTools returns the tool catalog reported by the server.
func (c *StreamableHTTPClient) ListTools(ctx context.Context) ([]Tool, error) {
	return fetchToolList(ctx, c)
}

// CallTool invokes the named tool with the given arguments and returns the
// content items of the result.
func (c *StreamableHTTPClient) CallTool(ctx context.Context, name string, args map[string]any) ([]Content, error) {
	return invokeTool(ctx, c, c.logger, name, args)
}

// Close releases the transport's connections.
func (c *StreamableHTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// sendMessage performs one POST round trip and decodes the response body
// according to its content type.
func (c *StreamableHTTPClient) sendMessage(ctx context.Context, msg JSONRPCMessage) (JSONRPCMessage, error) {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return JSONRPCMessage{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(msgBs))
	if err != nil {
		return JSONRPCMessage{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if sessID := c.session(); sessID != "" {
		req.Header.Set(sessionIDHeader, sessID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return JSONRPCMessage{}, fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return JSONRPCMessage{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return JSONRPCMessage{}, fmt.Errorf("%s: unexpected status code: %d (%s)", c.name, resp.StatusCode, body)
	}

	if sessID := resp.Header.Get(sessionIDHeader); sessID != "" {
		c.setSession(sessID)
	}

	if len(body) == 0 {
		return JSONRPCMessage{}, nil
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "text/event-stream"):
		return c.decodeEventStream(body)
	case strings.Contains(contentType, "application/json"):
		var res JSONRPCMessage
		if err := json.Unmarshal(body, &res); err != nil {
			return JSONRPCMessage{}, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		return res, nil
	default:
		return JSONRPCMessage{}, fmt.Errorf("%s: unsupported content type: %s", c.name, contentType)
	}
}

// decodeEventStream reads a single-shot event-stream body. Every event must be
// named "message"; the last event's payload is the call's result.
func (c *StreamableHTTPClient) decodeEventStream(body []byte) (JSONRPCMessage, error) {
	var res JSONRPCMessage
	for ev, err := range sse.Read(bytes.NewReader(body), nil) {
		if err != nil {
			return JSONRPCMessage{}, fmt.Errorf("failed to read SSE message: %w", err)
		}
		if ev.Type != "message" {
			return JSONRPCMessage{}, fmt.Errorf("%s: unknown server-sent event: %s", c.name, ev.Type)
		}
		if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
			return JSONRPCMessage{}, fmt.Errorf("failed to unmarshal message: %w", err)
		}
	}
	return res, nil
}

func (c *StreamableHTTPClient) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *StreamableHTTPClient) setSession(sessID string) {
	c.mu.Lock()
	c.sessionID = sessID
	c.mu.Unlock()
}
