package mcpclient

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimeout        = 50 * time.Second
	defaultSSEReadTimeout = 50 * time.Second
)

// Transport kinds selectable in ServerConfig.
const (
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable_http"
)

// ServerConfig describes one MCP server entry consumed by NewRegistry. It is
// supplied once at construction and never mutated afterwards.
type ServerConfig struct {
	// URL is the server's connection URL. Required.
	URL string `json:"url" yaml:"url"`

	// Headers are extra headers sent on every request to this server.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Timeout is the HTTP timeout in seconds. Zero means the default of 50.
	Timeout float64 `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Transport selects the wire transport, TransportSSE (the default when
	// empty) or TransportStreamableHTTP.
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty"`

	// SSEReadTimeout is the maximum stream silence in seconds before the
	// event-stream transport considers the connection dead. Zero means the
	// default of 50. Ignored by the streamable transport.
	SSEReadTimeout float64 `json:"sse_read_timeout,omitempty" yaml:"sse_read_timeout,omitempty"`

	// AllowedTools optionally restricts the server's catalog to tools whose
	// names match at least one of these glob patterns. Empty admits every
	// tool.
	AllowedTools []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
}

func (s ServerConfig) timeout() time.Duration {
	if s.Timeout <= 0 {
		return defaultTimeout
	}
	return time.Duration(s.Timeout * float64(time.Second))
}

func (s ServerConfig) sseReadTimeout() time.Duration {
	if s.SSEReadTimeout <= 0 {
		return defaultSSEReadTimeout
	}
	return time.Duration(s.SSEReadTimeout * float64(time.Second))
}

type serversFile struct {
	MCPServers map[string]ServerConfig `json:"mcpServers" yaml:"mcpServers"`
}

// ParseServersConfig decodes a server configuration document, either a plain
// mapping of server name to ServerConfig or the same mapping nested under a
// top-level "mcpServers" key. The document may be YAML or JSON; YAML is a
// superset of JSON, so a single decoder handles both.
func ParseServersConfig(data []byte) (map[string]ServerConfig, error) {
	var wrapper serversFile
	if err := yaml.Unmarshal(data, &wrapper); err == nil && len(wrapper.MCPServers) > 0 {
		return wrapper.MCPServers, nil
	}

	var servers map[string]ServerConfig
	if err := yaml.Unmarshal(data, &servers); err != nil {
		return nil, fmt.Errorf("failed to parse servers config: %w", err)
	}
	return servers, nil
}
