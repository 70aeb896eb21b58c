// Package live pushes pipeline events to connected host applications over
// SignalR and accepts activation payloads back from them.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/philippseith/signalr"
	"github.com/slush-dev/pushrelay"
)

// Client-side method names events are sent to.
const (
	TargetReceived = "received"
	TargetOpened   = "opened"
)

// DefaultPath is where the hub is mounted.
const DefaultPath = "/live"

// Opener correlates activation payloads. *pushrelay.Pipeline implements it.
type Opener interface {
	Open(ctx context.Context, payload string) (pushrelay.OpenedNotification, bool)
}

// OpenResult is returned to a client invoking Open.
type OpenResult struct {
	Opened         bool  `json:"opened"`
	NotificationID int64 `json:"notificationId,omitempty"`
}

// Hub is the SignalR hub clients connect to. A new Hub is created per
// invocation; shared state lives on Server.
type Hub struct {
	signalr.Hub
	server *Server
}

// Open correlates an activation payload handed back by the host application.
func (h *Hub) Open(payload string) OpenResult {
	opened, ok := h.server.opener.Open(h.server.ctx, payload)
	if !ok {
		return OpenResult{}
	}
	return OpenResult{Opened: true, NotificationID: opened.NotificationID}
}

// Option configures Server.
type Option func(*Server)

// WithLogger sets a custom logger for Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithKeepAlive sets the SignalR keep-alive interval.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		s.keepAlive = d
	}
}

// Server hosts the hub and is a pushrelay.Listener broadcasting to every
// connected client.
type Server struct {
	ctx       context.Context
	opener    Opener
	logger    *slog.Logger
	keepAlive time.Duration
	hub       signalr.Server
}

// NewServer creates the SignalR server. ctx bounds its lifetime and is used
// for Open invocations.
func NewServer(ctx context.Context, opener Opener, opts ...Option) (*Server, error) {
	s := &Server{
		ctx:       ctx,
		opener:    opener,
		logger:    slog.Default(),
		keepAlive: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	hub, err := signalr.NewServer(ctx,
		signalr.HubFactory(func() signalr.HubInterface {
			return &Hub{server: s}
		}),
		signalr.Logger(&slogAdapter{logger: s.logger}, false),
		signalr.KeepAliveInterval(s.keepAlive),
	)
	if err != nil {
		return nil, fmt.Errorf("creating SignalR server: %w", err)
	}
	s.hub = hub
	return s, nil
}

// MapHTTP mounts the hub on mux at path.
func (s *Server) MapHTTP(mux *http.ServeMux, path string) {
	if path == "" {
		path = DefaultPath
	}
	s.hub.MapHTTP(signalr.WithHTTPServeMux(mux), path)
}

func (s *Server) OnReceived(_ context.Context, env pushrelay.Envelope) error {
	s.hub.HubClients().All().Send(TargetReceived, env)
	return nil
}

func (s *Server) OnOpened(_ context.Context, opened pushrelay.OpenedNotification) error {
	s.hub.HubClients().All().Send(TargetOpened, opened)
	return nil
}

// slogAdapter adapts slog.Logger to the SignalR library's go-kit/log interface.
// The library emits flat key-value pairs: "level", "debug", "ts", "...", "state", 1
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Log(keyVals ...interface{}) error {
	if len(keyVals) == 0 {
		return nil
	}
	var attrs []any
	for i := 0; i+1 < len(keyVals); i += 2 {
		key := fmt.Sprint(keyVals[i])
		if key == "level" || key == "ts" || key == "caller" {
			continue
		}
		attrs = append(attrs, key, keyVals[i+1])
	}
	a.logger.Debug("signalr", attrs...)
	return nil
}
