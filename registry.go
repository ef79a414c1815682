package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/gobwas/glob"
)

// Registry owns one Transport per configured MCP server. It performs the
// protocol handshake on every server eagerly at construction, aggregates the
// servers' tool catalogs, and routes tool invocations to the owning transport.
//
// Servers are always iterated in lexical name order, so when two servers
// report a tool with the same name the later server's tool wins the routing
// entry deterministically.
//
// The catalog cache is written by FetchTools and read by ExecuteTool without
// coordination; callers invoking both from multiple goroutines must serialize
// externally.
type Registry struct {
	logger *slog.Logger

	names      []string
	transports map[string]Transport
	allowed    map[string][]glob.Glob
	catalogs   map[string][]Tool
}

// RegistryOption represents the options for the Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger for the registry.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry builds one transport per server entry and initializes every one
// of them. A server entry without an explicit transport kind gets the
// event-stream transport. Any failure, whether building a connection or
// performing a handshake, aborts construction entirely: transports built so
// far are closed and the error is returned, leaving no partial registry.
func NewRegistry(ctx context.Context, servers map[string]ServerConfig, options ...RegistryOption) (*Registry, error) {
	r := &Registry{
		logger:     slog.Default(),
		transports: make(map[string]Transport, len(servers)),
		allowed:    make(map[string][]glob.Glob, len(servers)),
		catalogs:   make(map[string][]Tool, len(servers)),
	}
	for _, opt := range options {
		opt(r)
	}

	r.names = slices.Sorted(maps.Keys(servers))

	for _, name := range r.names {
		cfg := servers[name]

		allowed, err := compileAllowedTools(cfg.AllowedTools)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("server %q: %w", name, err)
		}

		transport, err := buildTransport(ctx, name, cfg)
		if err != nil {
			r.Close()
			return nil, err
		}

		r.transports[name] = transport
		r.allowed[name] = allowed
	}

	for _, name := range r.names {
		if err := r.transports[name].Initialize(ctx); err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to initialize server %q: %w", name, err)
		}
	}

	return r, nil
}

func buildTransport(ctx context.Context, name string, cfg ServerConfig) (Transport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("server %q: missing url", name)
	}

	if cfg.Transport == TransportStreamableHTTP {
		return NewStreamableHTTPClient(name, cfg.URL,
			WithStreamableHeaders(cfg.Headers),
			WithStreamableTimeout(cfg.timeout()),
		), nil
	}

	return ConnectSSE(ctx, name, cfg.URL,
		WithSSEHeaders(cfg.Headers),
		WithSSETimeout(cfg.timeout()),
		WithSSEReadTimeout(cfg.sseReadTimeout()),
	)
}

func compileAllowedTools(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed_tools pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func filterAllowedTools(tools []Tool, allowed []glob.Glob) []Tool {
	if len(allowed) == 0 {
		return tools
	}

	filtered := make([]Tool, 0, len(tools))
	for _, tool := range tools {
		for _, g := range allowed {
			if g.Match(tool.Name) {
				filtered = append(filtered, tool)
				break
			}
		}
	}
	return filtered
}

// Servers returns the configured server names in iteration order.
func (r *Registry) Servers() []string {
	return slices.Clone(r.names)
}

// Catalog returns the cached tool catalog for the given server, or nil if no
// catalog has been fetched for it yet.
func (r *Registry) Catalog(server string) []Tool {
	return r.catalogs[server]
}

// FetchTools queries every managed server's tool catalog, caches each one
// under its server name, and returns the flattened concatenation in server
// iteration order. Any per-server failure aborts the whole call with one
// aggregate error; catalogs fetched earlier in the call stay cached, but no
// partial result is returned.
func (r *Registry) FetchTools(ctx context.Context) ([]Tool, error) {
	var all []Tool
	for _, name := range r.names {
		tools, err := r.transports[name].ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("error fetching tools: %w", err)
		}

		tools = filterAllowedTools(tools, r.allowed[name])
		r.catalogs[name] = tools
		all = append(all, tools...)
	}
	return all, nil
}

// ExecuteTool routes a tool invocation to the server owning the named tool and
// returns a human-readable outcome. It never fails to its caller: an unknown
// tool name, a fetch failure, or an invocation failure all yield a descriptive
// error string, and success yields a string embedding the raw result content.
func (r *Registry) ExecuteTool(ctx context.Context, name string, args map[string]any) string {
	if len(r.catalogs) == 0 {
		if _, err := r.FetchTools(ctx); err != nil {
			return r.executeError(err)
		}
	}

	routes := make(map[string]Transport)
	for _, server := range r.names {
		transport, ok := r.transports[server]
		if !ok {
			continue
		}
		for _, tool := range r.catalogs[server] {
			routes[tool.Name] = transport
		}
	}

	transport, ok := routes[name]
	if !ok {
		return r.executeError(fmt.Errorf("there is no tool named %q", name))
	}

	content, err := transport.CallTool(ctx, name, args)
	if err != nil {
		return r.executeError(err)
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return r.executeError(err)
	}
	return fmt.Sprintf("Tool execution result: %s", raw)
}

func (r *Registry) executeError(err error) string {
	msg := fmt.Sprintf("Error executing tool: %v", err)
	r.logger.Error("tool execution failed", slog.String("err", err.Error()))
	return msg
}

// Close closes every managed transport. A failure while closing one transport
// is logged and does not prevent closing the remainder.
func (r *Registry) Close() {
	for _, name := range r.names {
		transport, ok := r.transports[name]
		if !ok {
			continue
		}
		if err := transport.Close(); err != nil {
			r.logger.Error("failed to close server connection",
				slog.String("name", name), slog.String("err", err.Error()))
		}
	}
}
