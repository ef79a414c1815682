package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tmaxmax/go-sse"
)

// closeJoinTimeout bounds how long Close waits for the background listener to
// exit. A timeout is logged, never escalated.
const closeJoinTimeout = 10 * time.Second

// SSEClient implements the event-stream Transport. It maintains one persistent
// streamed GET connection on which the server pushes named events, and a
// separate POST channel for requests. The POST endpoint is learned from the
// server's "endpoint" event, and responses arriving on the stream are
// correlated to in-flight requests by message ID, so concurrent outstanding
// requests on one instance are safe.
//
// Instances must be created using ConnectSSE, which blocks until the session
// endpoint is known or the connection has failed.
type SSEClient struct {
	name       string
	connectURL string
	headers    map[string]string
	logger     *slog.Logger

	timeout     time.Duration
	readTimeout time.Duration

	httpClient   *http.Client // request channel, bounded by timeout
	streamClient *http.Client // persistent event stream, no overall deadline

	cancelStream context.CancelFunc

	mu          sync.Mutex
	endpointURL string
	pending     map[string]chan JSONRPCMessage // request ID -> one-shot response channel
	listenErr   error

	connectedOnce sync.Once
	connected     chan struct{}
	listenerDone  chan struct{}
}

// SSEClientOption represents the options for the SSEClient.
type SSEClientOption func(*SSEClient)

// WithSSEHeaders sets extra headers sent on every request, including the
// stream connection itself.
func WithSSEHeaders(headers map[string]string) SSEClientOption {
	return func(c *SSEClient) {
		c.headers = headers
	}
}

// WithSSETimeout sets the HTTP timeout for the request channel.
func WithSSETimeout(timeout time.Duration) SSEClientOption {
	return func(c *SSEClient) {
		c.timeout = timeout
	}
}

// WithSSEReadTimeout sets the maximum time the event stream may stay silent
// before the connection is considered dead.
func WithSSEReadTimeout(timeout time.Duration) SSEClientOption {
	return func(c *SSEClient) {
		c.readTimeout = timeout
	}
}

// WithSSELogger sets the logger for the client.
func WithSSELogger(logger *slog.Logger) SSEClientOption {
	return func(c *SSEClient) {
		c.logger = logger
	}
}

// ConnectSSE creates an SSEClient for the server named name at connectURL and
// establishes its session. It starts the background listener and blocks until
// one of: the server's "endpoint" event is received, the listener records a
// failure, or the listener exits unexpectedly. The returned client must be
// closed using Close when no longer needed.
func ConnectSSE(ctx context.Context, name, connectURL string, options ...SSEClientOption) (*SSEClient, error) {
	c := &SSEClient{
		name:         name,
		connectURL:   connectURL,
		logger:       slog.Default(),
		timeout:      defaultTimeout,
		readTimeout:  defaultSSEReadTimeout,
		pending:      make(map[string]chan JSONRPCMessage),
		connected:    make(chan struct{}),
		listenerDone: make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	c.httpClient = &http.Client{Timeout: c.timeout}
	c.streamClient = &http.Client{}

	// The stream outlives the construction context, it is torn down by Close.
	streamCtx, cancel := context.WithCancel(context.Background())
	c.cancelStream = cancel

	go c.listen(streamCtx)

	select {
	case <-c.connected:
		return c, nil
	case <-c.listenerDone:
		err := c.backgroundErr()
		if err == nil {
			err = errors.New("SSE listener terminated unexpectedly")
		}
		return nil, fmt.Errorf("%s: server connection failed: %w", name, err)
	case <-ctx.Done():
		_ = c.Close()
		return nil, fmt.Errorf("%s: server connection failed: %w", name, ctx.Err())
	}
}

// Initialize performs the MCP handshake over the established session.
func (c *SSEClient) Initialize(ctx context.Context) error {
	return initializeSession(ctx, c, Info{Name: "MCP HTTP with SSE Client", Version: "1.0.0"})
}

// ListTools returns the tool catalog reported by the server.
func (c *SSEClient) ListTools(ctx context.Context) ([]Tool, error) {
	return fetchToolList(ctx, c)
}

// CallTool invokes the named tool with the given arguments and returns the
// content items of the result.
func (c *SSEClient) CallTool(ctx context.Context, name string, args map[string]any) ([]Content, error) {
	return invokeTool(ctx, c, c.logger, name, args)
}

// Close requests listener shutdown, then waits with a bounded timeout for the
// background goroutine to exit. The wait timing out does not fail the close.
func (c *SSEClient) Close() error {
	c.cancelStream()

	select {
	case <-c.listenerDone:
	case <-time.After(closeJoinTimeout):
		c.logger.Warn("timed out waiting for SSE listener to stop", slog.String("name", c.name))
	}

	c.httpClient.CloseIdleConnections()
	c.streamClient.CloseIdleConnections()
	return nil
}

// sendMessage POSTs one envelope to the session endpoint. Envelopes carrying
// an ID block until the matching response arrives on the event stream;
// envelopes without an ID return an empty message once the POST succeeds.
func (c *SSEClient) sendMessage(ctx context.Context, msg JSONRPCMessage) (JSONRPCMessage, error) {
	c.mu.Lock()
	endpoint := c.endpointURL
	listenErr := c.listenErr
	c.mu.Unlock()

	if endpoint == "" {
		if listenErr != nil {
			return JSONRPCMessage{}, fmt.Errorf("%s: server connection failed: %w", c.name, listenErr)
		}
		return JSONRPCMessage{}, fmt.Errorf("%s: %w", c.name, ErrNotConnected)
	}

	msgID := string(msg.ID)

	// Register the response channel before the POST so a response racing the
	// HTTP round trip cannot be lost.
	var resCh chan JSONRPCMessage
	if msgID != "" {
		resCh = make(chan JSONRPCMessage, 1)
		c.mu.Lock()
		c.pending[msgID] = resCh
		c.mu.Unlock()
	}

	if err := c.post(ctx, endpoint, msgID, msg); err != nil {
		c.removePending(msgID)
		return JSONRPCMessage{}, err
	}

	if msgID == "" {
		return JSONRPCMessage{}, nil
	}

	select {
	case res := <-resCh:
		return res, nil
	case <-c.listenerDone:
		// The response may have been delivered right before the listener died.
		select {
		case res := <-resCh:
			return res, nil
		default:
		}
		c.removePending(msgID)
		err := c.backgroundErr()
		if err == nil {
			err = errors.New("SSE listener terminated unexpectedly")
		}
		return JSONRPCMessage{}, fmt.Errorf("%s: server connection failed: %w", c.name, err)
	case <-ctx.Done():
		c.removePending(msgID)
		return JSONRPCMessage{}, ctx.Err()
	}
}

func (c *SSEClient) post(ctx context.Context, endpoint, msgID string, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(msgBs))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trace-id", msgID)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: unexpected status code: %d (%s)", c.name, resp.StatusCode, body)
	}

	return nil
}

func (c *SSEClient) listen(ctx context.Context) {
	defer close(c.listenerDone)

	c.logger.Debug("connecting to SSE endpoint", slog.String("name", c.name), slog.String("url", c.connectURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.connectURL, nil)
	if err != nil {
		c.fail(fmt.Errorf("failed to create request: %w", err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		c.fail(fmt.Errorf("failed to connect to SSE endpoint: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.fail(fmt.Errorf("unexpected status code: %d", resp.StatusCode))
		return
	}

	// The watchdog kills the stream if the server stays silent longer than
	// the read timeout; every received event rearms it.
	watchdog := time.AfterFunc(c.readTimeout, func() {
		c.fail(fmt.Errorf("no event received within read timeout %s", c.readTimeout))
		c.cancelStream()
	})
	defer watchdog.Stop()

	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.fail(fmt.Errorf("failed to read SSE message: %w", err))
			}
			return
		}
		watchdog.Reset(c.readTimeout)

		switch ev.Type {
		case "endpoint":
			endpoint, err := c.resolveEndpoint(ev.Data)
			if err != nil {
				c.fail(err)
				return
			}

			c.mu.Lock()
			c.endpointURL = endpoint
			c.mu.Unlock()

			c.logger.Info("received endpoint URL", slog.String("name", c.name), slog.String("endpoint", endpoint))
			c.connectedOnce.Do(func() { close(c.connected) })
		case "message":
			var msg JSONRPCMessage
			if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
				c.logger.Error("failed to unmarshal message", slog.String("name", c.name), slog.String("err", err.Error()))
				continue
			}
			c.dispatch(msg)
		default:
			c.logger.Warn("unknown SSE event", slog.String("name", c.name), slog.String("type", ev.Type))
		}
	}
}

// resolveEndpoint resolves the endpoint payload against the connection URL and
// rejects endpoints whose origin differs from it, guarding against
// cross-origin endpoint injection.
func (c *SSEClient) resolveEndpoint(data string) (string, error) {
	base, err := url.Parse(c.connectURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse connection URL: %w", err)
	}
	endpoint, err := base.Parse(data)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}
	if endpoint.Scheme != base.Scheme || endpoint.Host != base.Host {
		return "", fmt.Errorf("endpoint origin %q does not match connection origin %q",
			endpoint.Scheme+"://"+endpoint.Host, base.Scheme+"://"+base.Host)
	}
	return endpoint.String(), nil
}

// dispatch delivers a response to the waiter registered for its ID. Removal
// and delivery happen in one critical section, so an entry is consumed exactly
// once.
func (c *SSEClient) dispatch(msg JSONRPCMessage) {
	id := string(msg.ID)

	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("no pending request for response", slog.String("name", c.name), slog.String("id", id))
		return
	}
	ch <- msg
}

func (c *SSEClient) removePending(msgID string) {
	if msgID == "" {
		return
	}
	c.mu.Lock()
	delete(c.pending, msgID)
	c.mu.Unlock()
}

func (c *SSEClient) fail(err error) {
	c.mu.Lock()
	if c.listenErr == nil {
		c.listenErr = err
	}
	c.mu.Unlock()
}

func (c *SSEClient) backgroundErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listenErr
}
