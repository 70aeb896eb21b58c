package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (g *PushMCPServer) registerResources() {
	g.server.AddResource(&mcp.Resource{
		URI:         statusURI,
		Name:        "Pipeline Status",
		Description: "Outcome counters, open count and tracked records",
		MIMEType:    "application/json",
	}, g.handleStatusResource)

	g.server.AddResource(&mcp.Resource{
		URI:         notificationsURI,
		Name:        "Notifications",
		Description: "Notification records and the activation payloads of those still shown",
		MIMEType:    "application/json",
	}, g.handleNotificationsResource)
}

func (g *PushMCPServer) handleStatusResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource(req.Params.URI, g.pipeline.Stats())
}

func (g *PushMCPServer) handleNotificationsResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	result := map[string]any{
		"records": g.pipeline.Records(),
		"shown":   g.shownList(),
	}
	return jsonResource(req.Params.URI, result)
}

// jsonResource marshals v to JSON and wraps it in a ReadResourceResult.
func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
