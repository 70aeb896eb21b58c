package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/slush-dev/pushrelay"
)

func (g *PushMCPServer) registerTools() {
	g.server.AddTool(injectMessageTool(), g.handleInjectMessage)
	g.server.AddTool(openNotificationTool(), g.handleOpenNotification)
	g.server.AddTool(dismissNotificationTool(), g.handleDismissNotification)
}

func injectMessageTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "inject_message",
		Description: "Run a raw push message through the pipeline as if a transport had delivered it. Returns the outcome.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"data": {"type": "object", "description": "Message key/value pairs, e.g. {\"_pr\": \"1\", \"text\": \"hello\"}"}
			},
			"required": ["data"]
		}`),
	}
}

func (g *PushMCPServer) handleInjectMessage(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Data json.RawMessage `json:"data"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(err.Error()), nil
	}
	if len(args.Data) == 0 {
		return errorResult("data is required"), nil
	}
	raw, err := pushrelay.DecodeRawMessage(args.Data)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid data: %v", err)), nil
	}

	outcome := g.pipeline.HandleMessage(ctx, raw)
	return jsonResult(map[string]any{"outcome": outcome})
}

func openNotificationTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "open_notification",
		Description: "Act on a shown notification, raising the opened event once. Pass either notification_id or a raw activation payload.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"notification_id": {"type": "integer", "description": "Id of a notification listed in push://notifications"},
				"activation": {"type": "string", "description": "Activation payload handed to the presentation sink"}
			}
		}`),
	}
}

func (g *PushMCPServer) handleOpenNotification(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		NotificationID int64  `json:"notification_id"`
		Activation     string `json:"activation"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(err.Error()), nil
	}

	payload := args.Activation
	if payload == "" {
		if args.NotificationID == 0 {
			return errorResult("notification_id or activation is required"), nil
		}
		var ok bool
		if payload, ok = g.activation(args.NotificationID); !ok {
			return jsonResult(map[string]any{"opened": false})
		}
	}

	opened, ok := g.pipeline.Open(ctx, payload)
	if !ok {
		return jsonResult(map[string]any{"opened": false})
	}
	return jsonResult(map[string]any{"opened": true, "notification": opened})
}

func dismissNotificationTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "dismiss_notification",
		Description: "Withdraw a shown notification without opening it.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"notification_id": {"type": "integer", "description": "Id of the notification to dismiss"}
			},
			"required": ["notification_id"]
		}`),
	}
}

func (g *PushMCPServer) handleDismissNotification(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		NotificationID int64 `json:"notification_id"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(err.Error()), nil
	}
	if args.NotificationID == 0 {
		return errorResult("notification_id is required"), nil
	}

	dismissed := g.pipeline.Dismiss(ctx, args.NotificationID)
	return jsonResult(map[string]any{"dismissed": dismissed})
}

func decodeArgs(req *mcp.CallToolRequest, v any) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, v); err != nil {
		return fmt.Errorf("invalid arguments: %v", err)
	}
	return nil
}
