package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/slush-dev/pushrelay"
)

// Handler consumes one raw push message. Pipeline.HandleMessage satisfies it.
type Handler func(ctx context.Context, raw pushrelay.RawMessage) pushrelay.Outcome

// Publisher is the subset of *nats.Conn used to send messages.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Reply is sent back to requesters that set a reply subject.
type Reply struct {
	Outcome pushrelay.Outcome `json:"outcome"`
	Error   string            `json:"error,omitempty"`
}

// Subscriber feeds messages from a NATS subject into a Handler. Members of
// the same queue group share the load.
type Subscriber struct {
	conn    *nats.Conn
	replies Publisher
	subject string
	queue   string
	handle  Handler
	logger  *slog.Logger

	mu  sync.Mutex
	ctx context.Context
	sub *nats.Subscription
}

// NewSubscriber creates a Subscriber. queue may be empty for a plain subscription.
func NewSubscriber(conn *nats.Conn, subject, queue string, handle Handler, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{
		conn:    conn,
		subject: subject,
		queue:   queue,
		handle:  handle,
		logger:  logger,
		ctx:     context.Background(),
	}
	if conn != nil {
		s.replies = conn
	}
	return s
}

// Start subscribes. Messages are handled with ctx until Stop is called.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return fmt.Errorf("natsbus: subscriber for %s already started", s.subject)
	}
	s.ctx = ctx

	var (
		sub *nats.Subscription
		err error
	)
	if s.queue != "" {
		sub, err = s.conn.QueueSubscribe(s.subject, s.queue, s.handleMsg)
	} else {
		sub, err = s.conn.Subscribe(s.subject, s.handleMsg)
	}
	if err != nil {
		return fmt.Errorf("natsbus: subscribe %s: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Info("subscribed to push subject", "subject", s.subject, "queue", s.queue)
	return nil
}

// Stop drains the subscription so in-flight messages complete.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	err := s.sub.Drain()
	s.sub = nil
	return err
}

func (s *Subscriber) handleMsg(msg *nats.Msg) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	reply := Reply{}
	raw, err := pushrelay.DecodeRawMessage(msg.Data)
	if err != nil {
		s.logger.Warn("dropping undecodable NATS message", "subject", msg.Subject, "error", err)
		reply.Outcome = pushrelay.OutcomeMalformed
		reply.Error = err.Error()
	} else {
		reply.Outcome = s.handle(ctx, raw)
	}

	if msg.Reply == "" || s.replies == nil {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("failed to encode NATS reply", "error", err)
		return
	}
	if err := s.replies.Publish(msg.Reply, data); err != nil {
		s.logger.Warn("failed to send NATS reply", "reply", msg.Reply, "error", err)
	}
}
