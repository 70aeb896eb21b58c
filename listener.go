package pushrelay

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Listener is a live, in-process consumer of pipeline events. Both callbacks
// are advisory: returned errors are logged and never retried.
type Listener interface {
	OnReceived(ctx context.Context, env Envelope) error
	OnOpened(ctx context.Context, opened OpenedNotification) error
}

// Listeners fans one event out to several listeners, so a single attached
// listener can feed more than one surface.
type Listeners []Listener

// OnReceived forwards env to every listener and joins their errors.
func (ls Listeners) OnReceived(ctx context.Context, env Envelope) error {
	var errs []error
	for _, l := range ls {
		if err := callListener(func() error { return l.OnReceived(ctx, env.Clone()) }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnOpened forwards opened to every listener and joins their errors.
func (ls Listeners) OnOpened(ctx context.Context, opened OpenedNotification) error {
	var errs []error
	for _, l := range ls {
		cpy := opened
		cpy.Envelope = opened.Envelope.Clone()
		if err := callListener(func() error { return l.OnOpened(ctx, cpy) }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// callListener runs fn and turns a panic into an error.
func callListener(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return fn()
}

// callBounded runs fn on its own goroutine and stops waiting once timeout
// passes or ctx ends, returning the context error. fn receives the bounded
// context so it can give up too. A panic in fn comes back as an error.
func callBounded(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
