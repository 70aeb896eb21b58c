package pushrelay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slush-dev/pushrelay/dedup"
	"github.com/slush-dev/pushrelay/internal/metrics"
)

// Correlator turns activation payloads back into envelopes and raises the
// "opened" event at most once per notification.
type Correlator struct {
	registry *Registry
	marks    IdentityStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewCorrelator creates a Correlator. marks decides exactly-once across
// redeliveries and defaults to an unbounded in-memory store; registry, when
// it still holds the record, tracks its state.
func NewCorrelator(registry *Registry, marks IdentityStore, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry(0)
	}
	if marks == nil {
		marks = dedup.NewMemoryStore(0)
	}
	return &Correlator{
		registry: registry,
		marks:    marks,
		logger:   logger,
		now:      time.Now,
	}
}

// Correlate reports the opened notification and true the first time a
// payload is seen. Redeliveries, undecodable payloads and records already
// opened yield false.
func (c *Correlator) Correlate(ctx context.Context, payload string) (OpenedNotification, bool) {
	notificationID, identity, env, err := DecodeActivation(payload)
	if err != nil {
		metrics.OpensTotal.WithLabelValues("decode_error").Inc()
		c.logger.Warn("could not decode activation payload", "error", err)
		return OpenedNotification{}, false
	}

	// Ids repeat across restarts, so a record only matches under the same identity.
	if rec, ok := c.registry.Get(notificationID); ok && rec.Identity == identity && rec.State == StateOpened {
		metrics.OpensTotal.WithLabelValues("duplicate").Inc()
		c.logger.Debug("notification already opened", "notification_id", notificationID)
		return OpenedNotification{}, false
	}

	first, err := c.marks.Claim(ctx, openMarkKey(notificationID, identity))
	if err != nil {
		metrics.OpensTotal.WithLabelValues("store_error").Inc()
		c.logger.Error("failed to record open", "notification_id", notificationID, "error", err)
		return OpenedNotification{}, false
	}
	if !first {
		metrics.OpensTotal.WithLabelValues("duplicate").Inc()
		c.logger.Debug("activation payload redelivered", "notification_id", notificationID)
		return OpenedNotification{}, false
	}

	if _, already := c.registry.MarkOpened(notificationID, identity); already {
		metrics.OpensTotal.WithLabelValues("duplicate").Inc()
		return OpenedNotification{}, false
	}

	metrics.OpensTotal.WithLabelValues("opened").Inc()
	return OpenedNotification{
		NotificationID: notificationID,
		Identity:       identity,
		Envelope:       env,
		OpenedAt:       c.now().UTC(),
	}, true
}

func openMarkKey(notificationID int64, identity DeliveryIdentity) string {
	return fmt.Sprintf("opened:%d:%s", notificationID, identity)
}
