package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// initializeSession performs the MCP handshake: a versioned initialize request
// followed by the notifications/initialized notification. Both responses are
// checked for an error field, even though a notification expects no reply.
func initializeSession(ctx context.Context, s messageSender, info Info) error {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      info,
	}
	paramsBs, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal initialize params: %w", err)
	}

	res, err := s.sendMessage(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      MustString(uuid.New().String()),
		Method:  methodInitialize,
		Params:  paramsBs,
	})
	if err != nil {
		return err
	}
	if res.Error != nil {
		return fmt.Errorf("initialize error: %w", res.Error)
	}

	res, err = s.sendMessage(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  methodNotificationsInitialized,
		Params:  json.RawMessage("{}"),
	})
	if err != nil {
		return err
	}
	if res.Error != nil {
		return fmt.Errorf("notifications/initialized error: %w", res.Error)
	}

	return nil
}

// fetchToolList queries the server's tool catalog. An absent tools array in
// the result yields an empty catalog.
func fetchToolList(ctx context.Context, s messageSender) ([]Tool, error) {
	res, err := s.sendMessage(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      MustString(uuid.New().String()),
		Method:  MethodToolsList,
		Params:  json.RawMessage("{}"),
	})
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, fmt.Errorf("tools/list error: %w", res.Error)
	}

	var result listToolsResult
	if len(res.Result) > 0 {
		if err := json.Unmarshal(res.Result, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tools/list result: %w", err)
		}
	}

	return result.Tools, nil
}

// invokeTool performs one tools/call round trip and returns the content items
// of the result. Numeric progress/total fields on the result are logged as a
// completion percentage; they have no control-flow effect.
func invokeTool(
	ctx context.Context,
	s messageSender,
	logger *slog.Logger,
	name string,
	args map[string]any,
) ([]Content, error) {
	params := callToolParams{
		Name:      name,
		Arguments: args,
	}
	paramsBs, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tools/call params: %w", err)
	}

	res, err := s.sendMessage(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      MustString(uuid.New().String()),
		Method:  MethodToolsCall,
		Params:  paramsBs,
	})
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, fmt.Errorf("tools/call error: %w", res.Error)
	}

	var result callToolResult
	if len(res.Result) > 0 {
		if err := json.Unmarshal(res.Result, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tools/call result: %w", err)
		}
	}

	if result.Total > 0 {
		logger.Info("tool call progress",
			slog.Float64("progress", result.Progress),
			slog.Float64("total", result.Total),
			slog.String("percentage", fmt.Sprintf("%.1f%%", result.Progress/result.Total*100)))
	}

	return result.Content, nil
}
