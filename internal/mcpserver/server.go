package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/slush-dev/pushrelay"
)

const (
	statusURI        = "push://status"
	notificationsURI = "push://notifications"
)

// PushMCPServer wraps an MCP server exposing a push pipeline as tools and
// resources. It is the pipeline's presentation sink and live listener:
// rendered notifications are held until opened or dismissed, and every
// pipeline event is announced as a resource update.
type PushMCPServer struct {
	server   *mcp.Server
	pipeline *pushrelay.Pipeline
	logger   *slog.Logger

	mu    sync.RWMutex
	shown map[int64]shownNotification
}

type shownNotification struct {
	NotificationID int64              `json:"notification_id"`
	Envelope       pushrelay.Envelope `json:"envelope"`
	Activation     string             `json:"activation"`
}

// New creates a PushMCPServer. opts configure the underlying pipeline.
func New(version string, logger *slog.Logger, opts ...pushrelay.Option) *PushMCPServer {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    "pushrelay",
		Version: version,
	}, &mcp.ServerOptions{
		SubscribeHandler:   func(context.Context, *mcp.SubscribeRequest) error { return nil },
		UnsubscribeHandler: func(context.Context, *mcp.UnsubscribeRequest) error { return nil },
	})

	g := &PushMCPServer{
		server: s,
		logger: logger,
		shown:  make(map[int64]shownNotification),
	}
	opts = append([]pushrelay.Option{pushrelay.WithLogger(logger)}, opts...)
	opts = append(opts, pushrelay.WithListener(g))
	g.pipeline = pushrelay.New(g, opts...)

	g.registerResources()
	g.registerTools()

	return g
}

// Pipeline returns the pipeline the server drives.
func (g *PushMCPServer) Pipeline() *pushrelay.Pipeline { return g.pipeline }

// Run starts the MCP server on stdio and blocks until done.
func (g *PushMCPServer) Run(ctx context.Context) error {
	return g.server.Run(ctx, &mcp.StdioTransport{})
}

// RunWithTransport starts the MCP server on a custom transport (for testing).
func (g *PushMCPServer) RunWithTransport(ctx context.Context, t mcp.Transport) error {
	_, err := g.server.Connect(ctx, t, nil)
	return err
}

// Render holds the notification so an agent can open or dismiss it.
func (g *PushMCPServer) Render(ctx context.Context, notificationID int64, env pushrelay.Envelope, activation string) (pushrelay.RenderHandle, error) {
	g.mu.Lock()
	g.shown[notificationID] = shownNotification{
		NotificationID: notificationID,
		Envelope:       env,
		Activation:     activation,
	}
	g.mu.Unlock()
	g.logger.Debug("holding notification for agent", "notification_id", notificationID, "id", env.ID)

	g.notify(ctx, "shown", map[string]any{"notification_id": notificationID})
	return pushrelay.RenderHandle(fmt.Sprintf("mcp:%d", notificationID)), nil
}

func (g *PushMCPServer) Dismiss(ctx context.Context, notificationID int64) error {
	g.mu.Lock()
	delete(g.shown, notificationID)
	g.mu.Unlock()

	g.notify(ctx, "dismissed", map[string]any{"notification_id": notificationID})
	return nil
}

func (g *PushMCPServer) OnReceived(ctx context.Context, env pushrelay.Envelope) error {
	g.notify(ctx, "received", map[string]any{"envelope": env})
	return nil
}

func (g *PushMCPServer) OnOpened(ctx context.Context, opened pushrelay.OpenedNotification) error {
	g.mu.Lock()
	delete(g.shown, opened.NotificationID)
	g.mu.Unlock()

	g.notify(ctx, "opened", map[string]any{"opened": opened})
	return nil
}

func (g *PushMCPServer) notify(ctx context.Context, kind string, fields map[string]any) {
	meta := mcp.Meta{"type": kind}
	for k, v := range fields {
		if data, err := json.Marshal(v); err == nil {
			meta[k] = json.RawMessage(data)
		}
	}
	g.server.ResourceUpdated(ctx, &mcp.ResourceUpdatedNotificationParams{
		URI:  notificationsURI,
		Meta: meta,
	})
}

func (g *PushMCPServer) activation(notificationID int64) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.shown[notificationID]
	return n.Activation, ok
}

func (g *PushMCPServer) shownList() []shownNotification {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]shownNotification, 0, len(g.shown))
	for _, n := range g.shown {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NotificationID < out[j].NotificationID })
	return out
}

// jsonResult marshals v to JSON and returns it as a text CallToolResult.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil
}

// errorResult returns a CallToolResult with IsError=true.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
