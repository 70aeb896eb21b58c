package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slush-dev/pushrelay"
	"github.com/slush-dev/pushrelay/dedup"
	"github.com/slush-dev/pushrelay/internal/config"
)

// stores holds the delivery dedup store and the open-mark store. Open marks
// never expire and are never evicted, whatever the dedup section says.
type stores struct {
	delivery pushrelay.IdentityStore
	marks    pushrelay.IdentityStore
	close    func() error
}

// openStore builds the identity stores named by the dedup section.
func openStore(ctx context.Context, dc config.DedupConfig) (*stores, error) {
	switch dc.Backend {
	case "redis":
		store, err := dedup.DialRedis(ctx, dc.RedisURL, dc.TTL)
		if err != nil {
			return nil, fmt.Errorf("opening redis identity store: %w", err)
		}
		if dc.RedisPrefix != "" {
			store = store.WithPrefix(dc.RedisPrefix)
		}
		prefix := dc.RedisPrefix
		if prefix == "" {
			prefix = dedup.DefaultKeyPrefix
		}
		marks := store.WithPrefix(prefix + dedup.MarkSuffix).WithTTL(0)
		return &stores{delivery: store, marks: marks, close: store.Close}, nil
	default:
		var opts []dedup.MemoryOption
		if dc.MaxEntries > 0 {
			opts = append(opts, dedup.WithMaxEntries(dc.MaxEntries))
		}
		store := dedup.NewMemoryStore(dc.TTL, opts...)
		marks := dedup.NewMemoryStore(0)
		return &stores{
			delivery: store,
			marks:    marks,
			close:    func() error { return errors.Join(store.Close(), marks.Close()) },
		}, nil
	}
}

// pipelineOptions translates configuration into pipeline options.
func pipelineOptions(c *config.Config, st *stores, log *slog.Logger) []pushrelay.Option {
	var ids pushrelay.IDGenerator = pushrelay.NewSequenceIDs()
	if c.Dispatch.IDStrategy == "random" {
		ids = pushrelay.NewRandomIDs()
	}
	return []pushrelay.Option{
		pushrelay.WithLogger(log),
		pushrelay.WithValidator(pushrelay.Validator{
			MarkerKey:       c.Validator.MarkerKey,
			DefaultActivity: c.Validator.DefaultActivity,
		}),
		pushrelay.WithIdentityStore(st.delivery),
		pushrelay.WithOpenMarkStore(st.marks),
		pushrelay.WithRegistry(pushrelay.NewRegistry(c.Registry.MaxRecords)),
		pushrelay.WithDispatcherOptions(
			pushrelay.WithIDGenerator(ids),
			pushrelay.WithRenderTimeout(c.Dispatch.RenderTimeout),
			pushrelay.WithListenerTimeout(c.Dispatch.ListenerTimeout),
		),
	}
}

// buildPipeline opens the identity store and wires a pipeline rendering
// through sink. The returned func releases the store.
func buildPipeline(ctx context.Context, c *config.Config, sink pushrelay.PresentationSink, log *slog.Logger, extra ...pushrelay.Option) (*pushrelay.Pipeline, func(), error) {
	st, err := openStore(ctx, c.Dedup)
	if err != nil {
		return nil, nil, err
	}
	opts := append(pipelineOptions(c, st, log), extra...)
	release := func() {
		if err := st.close(); err != nil {
			log.Warn("closing identity store", "error", err)
		}
	}
	return pushrelay.New(sink, opts...), release, nil
}
