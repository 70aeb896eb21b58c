package pushrelay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type renderCall struct {
	NotificationID int64
	Envelope       Envelope
	Activation     string
}

// recordingSink records every render and dismiss call.
type recordingSink struct {
	mu        sync.Mutex
	renders   []renderCall
	dismissed []int64
	err       error
	block     bool
}

func (s *recordingSink) Render(ctx context.Context, id int64, env Envelope, activation string) (RenderHandle, error) {
	s.mu.Lock()
	s.renders = append(s.renders, renderCall{NotificationID: id, Envelope: env, Activation: activation})
	block, err := s.block, s.err
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return RenderHandle("handle"), nil
}

func (s *recordingSink) Dismiss(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dismissed = append(s.dismissed, id)
	return s.err
}

func (s *recordingSink) Renders() []renderCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]renderCall, len(s.renders))
	copy(out, s.renders)
	return out
}

// recordingListener records received and opened events.
type recordingListener struct {
	mu       sync.Mutex
	received []Envelope
	opened   []OpenedNotification
	err      error
	panicky  bool
}

func (l *recordingListener) OnReceived(_ context.Context, env Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.received = append(l.received, env)
	if l.panicky {
		panic("listener exploded")
	}
	return l.err
}

func (l *recordingListener) OnOpened(_ context.Context, opened OpenedNotification) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened = append(l.opened, opened)
	if l.panicky {
		panic("listener exploded")
	}
	return l.err
}

func (l *recordingListener) Received() []Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Envelope(nil), l.received...)
}

func (l *recordingListener) Opened() []OpenedNotification {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]OpenedNotification(nil), l.opened...)
}

func TestDispatch_RenderableNoListener(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, nil, WithIDGenerator(NewSequenceIDsFrom(7)))
	env := Envelope{ID: "abc", Text: "Sale today!"}

	rec := d.Dispatch(context.Background(), env, Assign(env), nil)
	require.NotNil(t, rec)
	assert.Equal(t, StateShown, rec.State)
	assert.Equal(t, int64(7), rec.NotificationID)
	assert.Equal(t, "Sale today!", rec.Envelope.Text)

	renders := sink.Renders()
	require.Len(t, renders, 1)
	assert.Equal(t, int64(7), renders[0].NotificationID)
	assert.NotEmpty(t, renders[0].Activation)

	stored, ok := d.Registry().Get(7)
	require.True(t, ok)
	assert.Equal(t, StateShown, stored.State)
}

func TestDispatch_EmptyTextNotRendered(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, nil)
	env := Envelope{ID: "xyz", Text: ""}

	rec := d.Dispatch(context.Background(), env, Assign(env), nil)
	assert.Nil(t, rec)
	assert.Empty(t, sink.Renders())
	assert.Equal(t, 0, d.Registry().Len())
}

func TestDispatch_ListenerAlwaysNotified(t *testing.T) {
	sink := &recordingSink{}
	l := &recordingListener{}
	d := NewDispatcher(sink, nil)

	d.Dispatch(context.Background(), Envelope{ID: "silent"}, "idn-1", l)
	d.Dispatch(context.Background(), Envelope{ID: "loud", Text: "hi"}, "idn-2", l)

	received := l.Received()
	require.Len(t, received, 2)
	assert.Equal(t, "silent", received[0].ID)
	assert.Equal(t, "loud", received[1].ID)
	assert.Len(t, sink.Renders(), 1)
}

func TestDispatch_ListenerFailureDoesNotBlockRender(t *testing.T) {
	for _, l := range []*recordingListener{
		{err: errors.New("listener gone")},
		{panicky: true},
	} {
		sink := &recordingSink{}
		d := NewDispatcher(sink, nil)

		rec := d.Dispatch(context.Background(), Envelope{Text: "hi"}, "idn", l)
		require.NotNil(t, rec)
		assert.Equal(t, StateShown, rec.State)
		assert.Len(t, sink.Renders(), 1)
	}
}

// stuckListener never returns until its context ends.
type stuckListener struct {
	calls atomic.Int32
}

func (l *stuckListener) OnReceived(ctx context.Context, _ Envelope) error {
	l.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (l *stuckListener) OnOpened(ctx context.Context, _ OpenedNotification) error {
	l.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatch_StuckListenerStillRenders(t *testing.T) {
	sink := &recordingSink{}
	l := &stuckListener{}
	d := NewDispatcher(sink, nil, WithListenerTimeout(20*time.Millisecond))

	start := time.Now()
	rec := d.Dispatch(context.Background(), Envelope{Text: "hi"}, "idn", l)
	require.NotNil(t, rec)
	assert.Equal(t, StateShown, rec.State)
	assert.Len(t, sink.Renders(), 1)
	assert.EqualValues(t, 1, l.calls.Load())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCallBounded(t *testing.T) {
	err := callBounded(context.Background(), time.Second, func(context.Context) error { return nil })
	assert.NoError(t, err)

	err = callBounded(context.Background(), time.Second, func(context.Context) error { panic("boom") })
	assert.ErrorContains(t, err, "boom")

	err = callBounded(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatch_RenderFailure(t *testing.T) {
	sink := &recordingSink{err: errors.New("notification manager unavailable")}
	d := NewDispatcher(sink, nil)

	rec := d.Dispatch(context.Background(), Envelope{Text: "hi"}, "idn", nil)
	assert.Nil(t, rec)
	assert.Len(t, sink.Renders(), 1, "no retry after a render failure")
	assert.Equal(t, 0, d.Registry().Len())
}

func TestDispatch_RenderTimeout(t *testing.T) {
	sink := &recordingSink{block: true}
	d := NewDispatcher(sink, nil, WithRenderTimeout(20*time.Millisecond))

	start := time.Now()
	rec := d.Dispatch(context.Background(), Envelope{Text: "hi"}, "idn", nil)
	assert.Nil(t, rec)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, sink.Renders(), 1)
}

func TestDispatch_RenderErrorWrapping(t *testing.T) {
	sink := &recordingSink{block: true}
	d := NewDispatcher(sink, nil, WithRenderTimeout(10*time.Millisecond))

	_, err := d.render(context.Background(), NotificationRecord{NotificationID: 5, Envelope: Envelope{Text: "hi"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRenderFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var re *RenderError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, int64(5), re.NotificationID)
}

func TestDispatch_ActivationRoundTrip(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, nil, WithIDGenerator(NewSequenceIDsFrom(42)))
	env := Envelope{ID: "abc", Text: "hi", Metadata: map[string]string{"k": "v"}}

	d.Dispatch(context.Background(), env, Assign(env), nil)
	renders := sink.Renders()
	require.Len(t, renders, 1)

	nid, identity, decoded, err := DecodeActivation(renders[0].Activation)
	require.NoError(t, err)
	assert.Equal(t, int64(42), nid)
	assert.Equal(t, Assign(env), identity)
	assert.Equal(t, env, decoded)
}

func TestDispatch_NoSink(t *testing.T) {
	d := NewDispatcher(nil, nil)
	assert.Nil(t, d.Dispatch(context.Background(), Envelope{Text: "hi"}, "idn", nil))
}

func TestDismiss(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, nil, WithIDGenerator(NewSequenceIDsFrom(1)))

	rec := d.Dispatch(context.Background(), Envelope{Text: "hi"}, "idn", nil)
	require.NotNil(t, rec)

	assert.True(t, d.Dismiss(context.Background(), rec.NotificationID))
	stored, _ := d.Registry().Get(rec.NotificationID)
	assert.Equal(t, StateDismissed, stored.State)

	assert.False(t, d.Dismiss(context.Background(), rec.NotificationID), "already dismissed")
	assert.False(t, d.Dismiss(context.Background(), 999))
}
