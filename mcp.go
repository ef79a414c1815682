package mcpclient

import (
	"context"
	"errors"
)

// ErrNotConnected is returned when a message is sent through a transport whose
// session has not been established.
var ErrNotConnected = errors.New("transport is not connected")

// Transport provides the client-side communication layer for one MCP server.
// It is implemented by SSEClient and StreamableHTTPClient, and the Registry
// treats both kinds uniformly.
type Transport interface {
	// Initialize performs the protocol handshake with the server. It must be
	// called once before ListTools or CallTool, and returns an error if the
	// handshake response carries an error field.
	Initialize(ctx context.Context) error

	// ListTools returns the tool catalog reported by the server, in the order
	// the server reported it.
	ListTools(ctx context.Context) ([]Tool, error)

	// CallTool performs one tool invocation and returns the content items of
	// the server's result.
	CallTool(ctx context.Context, name string, args map[string]any) ([]Content, error)

	// Close releases all transport resources. The caller is guaranteed to call
	// this method at most once.
	Close() error
}

// messageSender is the wire-level contract shared by both transports: one
// request/response round trip of a JSON-RPC envelope. Envelopes without an ID
// are notifications; implementations return an empty message for them once the
// send succeeds.
type messageSender interface {
	sendMessage(ctx context.Context, msg JSONRPCMessage) (JSONRPCMessage, error)
}
