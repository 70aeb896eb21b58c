package pushrelay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/slush-dev/pushrelay/internal/metrics"
)

// DefaultRenderTimeout bounds a single presentation sink call.
const DefaultRenderTimeout = 5 * time.Second

// DefaultListenerTimeout bounds a single live listener callback.
const DefaultListenerTimeout = 5 * time.Second

// DispatcherOption configures Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithIDGenerator sets the notification id strategy.
func WithIDGenerator(ids IDGenerator) DispatcherOption {
	return func(d *Dispatcher) {
		d.ids = ids
	}
}

// WithRenderTimeout sets how long a render may take before it is abandoned.
func WithRenderTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.renderTimeout = timeout
	}
}

// WithListenerTimeout sets how long a listener callback may take before the
// delivery stops waiting for it.
func WithListenerTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.listenerTimeout = timeout
	}
}

// WithDispatcherLogger sets a custom logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// Dispatcher forwards envelopes to the live listener and renders them through
// the presentation sink.
type Dispatcher struct {
	sink            PresentationSink
	registry        *Registry
	ids             IDGenerator
	renderTimeout   time.Duration
	listenerTimeout time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

// NewDispatcher creates a Dispatcher rendering through sink and recording into registry.
func NewDispatcher(sink PresentationSink, registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sink:            sink,
		registry:        registry,
		ids:             NewSequenceIDs(),
		renderTimeout:   DefaultRenderTimeout,
		listenerTimeout: DefaultListenerTimeout,
		logger:          slog.Default(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = NewRegistry(0)
	}
	return d
}

// Dispatch delivers env. The listener, when non-nil, always receives the
// envelope first; a listener that overruns its timeout is abandoned. The sink
// is called exactly once for renderable envelopes.
// It returns the shown record, or nil when nothing was rendered.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope, identity DeliveryIdentity, listener Listener) *NotificationRecord {
	if listener != nil {
		cpy := env.Clone()
		err := d.notify(ctx, func(ctx context.Context) error { return listener.OnReceived(ctx, cpy) })
		if err != nil {
			metrics.ListenerErrors.WithLabelValues("received").Inc()
			d.logger.Warn("live listener delivery failed", "id", env.ID, "error", err)
		}
	}

	if !env.Renderable() {
		d.logger.Debug("envelope has no renderable content", "id", env.ID)
		return nil
	}
	if d.sink == nil {
		d.logger.Warn("no presentation sink configured, dropping notification", "id", env.ID)
		return nil
	}

	rec := NotificationRecord{
		NotificationID: d.ids.Next(),
		Envelope:       env.Clone(),
		Identity:       identity,
		CreatedAt:      d.now().UTC(),
		State:          StatePending,
	}
	d.registry.Put(rec)
	metrics.RecordsTracked.Set(float64(d.registry.Len()))

	handle, err := d.render(ctx, rec)
	if err != nil {
		d.registry.Delete(rec.NotificationID)
		metrics.RecordsTracked.Set(float64(d.registry.Len()))
		d.logger.Error("failed to render notification", "notification_id", rec.NotificationID, "id", env.ID, "error", err)
		return nil
	}

	shown, ok := d.registry.Transition(rec.NotificationID, StatePending, StateShown)
	if !ok {
		// Pruned or already moved on by a concurrent open.
		rec.State = StateShown
		shown = rec
	}
	d.logger.Debug("notification shown", "notification_id", shown.NotificationID, "id", env.ID, "handle", handle)
	return &shown
}

// Dismiss removes a shown notification from the sink and marks it dismissed.
// Opened records keep their state.
func (d *Dispatcher) Dismiss(ctx context.Context, notificationID int64) bool {
	if d.sink != nil {
		if err := d.sink.Dismiss(ctx, notificationID); err != nil {
			d.logger.Warn("failed to dismiss notification", "notification_id", notificationID, "error", err)
			return false
		}
	}
	_, ok := d.registry.Transition(notificationID, StateShown, StateDismissed)
	return ok
}

// Registry returns the record store this dispatcher writes to.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// notify calls a listener callback bounded by listenerTimeout.
func (d *Dispatcher) notify(ctx context.Context, fn func(context.Context) error) error {
	return callBounded(ctx, d.listenerTimeout, fn)
}

// render calls the sink bounded by renderTimeout. A stuck sink is abandoned.
func (d *Dispatcher) render(ctx context.Context, rec NotificationRecord) (RenderHandle, error) {
	payload, err := EncodeActivation(rec.NotificationID, rec.Identity, rec.Envelope)
	if err != nil {
		metrics.RendersTotal.WithLabelValues("error").Inc()
		return "", &RenderError{NotificationID: rec.NotificationID, Err: err}
	}

	var handle RenderHandle
	start := d.now()
	err = callBounded(ctx, d.renderTimeout, func(ctx context.Context) error {
		h, err := d.sink.Render(ctx, rec.NotificationID, rec.Envelope.Clone(), payload)
		handle = h
		return err
	})
	switch {
	case err == nil:
		metrics.RenderDuration.Observe(d.now().Sub(start).Seconds())
		metrics.RendersTotal.WithLabelValues("ok").Inc()
		return handle, nil
	case errors.Is(err, context.DeadlineExceeded):
		metrics.RendersTotal.WithLabelValues("timeout").Inc()
	case errors.Is(err, context.Canceled):
		metrics.RendersTotal.WithLabelValues("canceled").Inc()
	default:
		metrics.RenderDuration.Observe(d.now().Sub(start).Seconds())
		metrics.RendersTotal.WithLabelValues("error").Inc()
	}
	return "", &RenderError{NotificationID: rec.NotificationID, Err: err}
}
