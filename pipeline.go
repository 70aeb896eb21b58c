package pushrelay

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/slush-dev/pushrelay/dedup"
	"github.com/slush-dev/pushrelay/internal/metrics"
)

// IdentityStore is a first-seen set. Claim must be an atomic check-and-insert.
// dedup.MemoryStore and dedup.RedisStore implement it.
type IdentityStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Record(ctx context.Context, key string) error
	Claim(ctx context.Context, key string) (bool, error)
}

// Option configures Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithValidator replaces the default Validator.
func WithValidator(v Validator) Option {
	return func(p *Pipeline) {
		p.validator = v
	}
}

// WithIdentityStore sets the store used for delivery dedup.
func WithIdentityStore(store IdentityStore) Option {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithOpenMarkStore sets the store that makes "opened" exactly-once. Its keys
// must never expire or be evicted; the default is an unbounded memory store.
func WithOpenMarkStore(store IdentityStore) Option {
	return func(p *Pipeline) {
		p.marks = store
	}
}

// WithRegistry sets the notification record store.
func WithRegistry(r *Registry) Option {
	return func(p *Pipeline) {
		p.registry = r
	}
}

// WithDispatcherOptions passes options through to the Dispatcher.
func WithDispatcherOptions(opts ...DispatcherOption) Option {
	return func(p *Pipeline) {
		p.dispatchOpts = append(p.dispatchOpts, opts...)
	}
}

// WithListener attaches a live listener from the start.
func WithListener(l Listener) Option {
	return func(p *Pipeline) {
		p.Attach(l)
	}
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Outcomes         map[Outcome]int64 `json:"outcomes" yaml:"outcomes"`
	Opened           int64             `json:"opened" yaml:"opened"`
	Records          int               `json:"records" yaml:"records"`
	ListenerAttached bool              `json:"listenerAttached" yaml:"listener_attached"`
}

type listenerBox struct{ l Listener }

// Pipeline validates, deduplicates and dispatches inbound push messages, and
// correlates activations back to them. It is safe for concurrent use.
type Pipeline struct {
	validator    Validator
	store        IdentityStore
	marks        IdentityStore
	registry     *Registry
	dispatcher   *Dispatcher
	correlator   *Correlator
	dispatchOpts []DispatcherOption
	logger       *slog.Logger
	now          func() time.Time

	listener atomic.Pointer[listenerBox]

	outcomes [len(allOutcomes)]atomic.Int64
	opened   atomic.Int64
}

var allOutcomes = [...]Outcome{
	OutcomeIgnored, OutcomeMalformed, OutcomeExpired, OutcomeDuplicate,
	OutcomeSilent, OutcomeShown, OutcomeFailed,
}

// New creates a Pipeline rendering through sink.
func New(sink PresentationSink, opts ...Option) *Pipeline {
	p := &Pipeline{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.store == nil {
		p.store = dedup.NewMemoryStore(0)
	}
	if p.marks == nil {
		p.marks = dedup.NewMemoryStore(0)
	}
	if p.registry == nil {
		p.registry = NewRegistry(0)
	}

	dopts := append([]DispatcherOption{WithDispatcherLogger(p.logger)}, p.dispatchOpts...)
	p.dispatcher = NewDispatcher(sink, p.registry, dopts...)
	p.correlator = NewCorrelator(p.registry, p.marks, p.logger)
	return p
}

// Attach sets the live listener. Passing nil detaches.
func (p *Pipeline) Attach(l Listener) {
	if l == nil {
		p.listener.Store(nil)
		return
	}
	p.listener.Store(&listenerBox{l: l})
}

// Detach removes the live listener.
func (p *Pipeline) Detach() { p.listener.Store(nil) }

func (p *Pipeline) currentListener() Listener {
	if box := p.listener.Load(); box != nil {
		return box.l
	}
	return nil
}

// HandleMessage is the transport callback. It never returns an error and
// never panics: every failure ends in a logged drop.
func (p *Pipeline) HandleMessage(ctx context.Context, raw RawMessage) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while handling push message", "panic", r)
			outcome = OutcomeFailed
		}
		p.count(outcome)
	}()

	env, err := p.validator.Validate(raw)
	switch {
	case errors.Is(err, ErrNotBelonging):
		p.logger.Debug("ignoring push message without marker", "keys", len(raw))
		return OutcomeIgnored
	case err != nil:
		p.logger.Warn("dropping malformed push message", "error", err)
		return OutcomeMalformed
	}

	if env.Expired(p.now()) {
		p.logger.Info("dropping expired push message", "id", env.ID, "expires_at", env.ExpiresAt)
		return OutcomeExpired
	}

	identity := Assign(env)
	if env.ID == "" {
		env.ID = identity.String()
	}

	first, err := p.store.Claim(ctx, deliveryKey(identity))
	if err != nil {
		metrics.DedupErrors.Inc()
		p.logger.Error("identity store unavailable, dropping push message", "id", env.ID, "error", err)
		return OutcomeFailed
	}
	if !first {
		p.logger.Debug("suppressing duplicate delivery", "id", env.ID, "identity", identity)
		return OutcomeDuplicate
	}

	rec := p.dispatcher.Dispatch(ctx, env, identity, p.currentListener())
	switch {
	case rec != nil:
		return OutcomeShown
	case !env.Renderable():
		return OutcomeSilent
	default:
		return OutcomeFailed
	}
}

// Open correlates an activation payload and notifies the live listener the
// first time it is seen.
func (p *Pipeline) Open(ctx context.Context, payload string) (OpenedNotification, bool) {
	opened, ok := p.correlator.Correlate(ctx, payload)
	if !ok {
		return OpenedNotification{}, false
	}
	p.opened.Add(1)

	if l := p.currentListener(); l != nil {
		cpy := opened
		cpy.Envelope = opened.Envelope.Clone()
		err := p.dispatcher.notify(ctx, func(ctx context.Context) error { return l.OnOpened(ctx, cpy) })
		if err != nil {
			metrics.ListenerErrors.WithLabelValues("opened").Inc()
			p.logger.Warn("live listener open delivery failed", "notification_id", opened.NotificationID, "error", err)
		}
	}
	return opened, true
}

// Dismiss withdraws a shown notification.
func (p *Pipeline) Dismiss(ctx context.Context, notificationID int64) bool {
	return p.dispatcher.Dismiss(ctx, notificationID)
}

// Records returns the notification records currently tracked.
func (p *Pipeline) Records() []NotificationRecord {
	return p.registry.List()
}

// Stats returns a snapshot of pipeline counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Outcomes:         make(map[Outcome]int64, len(allOutcomes)),
		Opened:           p.opened.Load(),
		Records:          p.registry.Len(),
		ListenerAttached: p.currentListener() != nil,
	}
	for i, o := range allOutcomes {
		s.Outcomes[o] = p.outcomes[i].Load()
	}
	return s
}

func (p *Pipeline) count(o Outcome) {
	metrics.MessagesTotal.WithLabelValues(string(o)).Inc()
	for i, known := range allOutcomes {
		if known == o {
			p.outcomes[i].Add(1)
			return
		}
	}
}

func deliveryKey(identity DeliveryIdentity) string {
	return "delivery:" + identity.String()
}
