// Package mcpclient implements the client side of the Model Context Protocol (MCP),
// letting a caller discover and invoke tools exposed by one or more independently
// configured MCP servers. This implementation follows the official specification
// from https://spec.modelcontextprotocol.io/specification/.
//
// Two wire transports are provided: SSEClient maintains a persistent
// server-sent-events connection with a separate POST channel for requests, while
// StreamableHTTPClient issues one HTTP request per protocol call. The Registry
// aggregates the tool catalogs of every configured server and routes invocations
// to the owning transport.
package mcpclient
