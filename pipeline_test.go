package pushrelay

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/slush-dev/pushrelay/dedup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type failingStore struct{}

func (failingStore) Seen(context.Context, string) (bool, error) { return false, errors.New("down") }
func (failingStore) Record(context.Context, string) error       { return errors.New("down") }
func (failingStore) Claim(context.Context, string) (bool, error) {
	return false, errors.New("down")
}

func TestHandleMessage_NoMarkerIgnored(t *testing.T) {
	sink := &recordingSink{}
	l := &recordingListener{}
	p := New(sink, WithListener(l))

	out := p.HandleMessage(context.Background(), RawMessage{"text": "hi", "id": "abc"})
	assert.Equal(t, OutcomeIgnored, out)
	assert.Empty(t, sink.Renders())
	assert.Empty(t, l.Received())
}

func TestHandleMessage_Shown(t *testing.T) {
	sink := &recordingSink{}
	l := &recordingListener{}
	p := New(sink, WithListener(l))

	out := p.HandleMessage(context.Background(), RawMessage{"_pr": "1", "_id": "abc", "text": "Sale today!"})
	assert.Equal(t, OutcomeShown, out)

	renders := sink.Renders()
	require.Len(t, renders, 1)
	assert.Equal(t, "Sale today!", renders[0].Envelope.Text)
	require.Len(t, l.Received(), 1)

	records := p.Records()
	require.Len(t, records, 1)
	assert.Equal(t, StateShown, records[0].State)
}

func TestHandleMessage_Silent(t *testing.T) {
	sink := &recordingSink{}
	l := &recordingListener{}
	p := New(sink, WithListener(l))

	out := p.HandleMessage(context.Background(), RawMessage{"_pr": "1", "_id": "xyz", "text": ""})
	assert.Equal(t, OutcomeSilent, out)
	assert.Empty(t, sink.Renders())
	assert.Len(t, l.Received(), 1)
}

func TestHandleMessage_Duplicate(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)
	raw := RawMessage{"_pr": "1", "_id": "abc", "text": "hi"}

	assert.Equal(t, OutcomeShown, p.HandleMessage(context.Background(), raw))
	assert.Equal(t, OutcomeDuplicate, p.HandleMessage(context.Background(), raw))
	assert.Len(t, sink.Renders(), 1)
}

func TestHandleMessage_ContentIdentityDedup(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)

	first := RawMessage{"_pr": "1", "text": "hi", "a": "1", "b": "2"}
	same := RawMessage{"b": "2", "text": "hi", "a": "1", "_pr": "1"}
	other := RawMessage{"_pr": "1", "text": "hi", "a": "1", "b": "3"}

	assert.Equal(t, OutcomeShown, p.HandleMessage(context.Background(), first))
	assert.Equal(t, OutcomeDuplicate, p.HandleMessage(context.Background(), same))
	assert.Equal(t, OutcomeShown, p.HandleMessage(context.Background(), other))

	renders := sink.Renders()
	require.Len(t, renders, 2)
	assert.NotEmpty(t, renders[0].Envelope.ID, "derived identity fills the id")
}

func TestHandleMessage_ConcurrentDuplicates(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)
	raw := RawMessage{"_pr": "1", "_id": "race", "text": "hi"}

	const n = 50
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			p.HandleMessage(context.Background(), raw)
		}()
	}
	close(start)
	wg.Wait()

	assert.Len(t, sink.Renders(), 1)
	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Outcomes[OutcomeShown])
	assert.Equal(t, int64(n-1), stats.Outcomes[OutcomeDuplicate])
}

func TestHandleMessage_Malformed(t *testing.T) {
	sink := &recordingSink{}
	l := &recordingListener{}
	p := New(sink, WithListener(l))

	for _, raw := range []RawMessage{
		{"_pr": "banana", "text": "hi"},
		{"_pr": "1", "_exp": "soon", "text": "hi"},
		{"_pr": "1", "_md": "[1,2]", "text": "hi"},
	} {
		assert.Equal(t, OutcomeMalformed, p.HandleMessage(context.Background(), raw))
	}
	assert.Empty(t, sink.Renders())
	assert.Empty(t, l.Received())
}

func TestHandleMessage_Expired(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)

	past := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	future := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)

	assert.Equal(t, OutcomeExpired, p.HandleMessage(context.Background(), RawMessage{"_pr": "1", "_exp": past, "text": "late"}))
	assert.Equal(t, OutcomeShown, p.HandleMessage(context.Background(), RawMessage{"_pr": "1", "_exp": future, "text": "on time"}))
	assert.Len(t, sink.Renders(), 1)
}

func TestHandleMessage_StoreFailure(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, WithIdentityStore(failingStore{}))

	out := p.HandleMessage(context.Background(), RawMessage{"_pr": "1", "text": "hi"})
	assert.Equal(t, OutcomeFailed, out)
	assert.Empty(t, sink.Renders())
}

func TestHandleMessage_RenderFailureNotRedelivered(t *testing.T) {
	sink := &recordingSink{err: errors.New("sink broken")}
	p := New(sink)
	raw := RawMessage{"_pr": "1", "_id": "abc", "text": "hi"}

	assert.Equal(t, OutcomeFailed, p.HandleMessage(context.Background(), raw))
	assert.Equal(t, OutcomeDuplicate, p.HandleMessage(context.Background(), raw))
	assert.Len(t, sink.Renders(), 1)
	assert.Empty(t, p.Records())
}

func TestHandleMessage_ListenerAttachDetach(t *testing.T) {
	sink := &recordingSink{}
	l := &recordingListener{}
	p := New(sink)

	p.HandleMessage(context.Background(), RawMessage{"_pr": "1", "_id": "1", "text": "a"})
	p.Attach(l)
	p.HandleMessage(context.Background(), RawMessage{"_pr": "1", "_id": "2", "text": "b"})
	p.Detach()
	p.HandleMessage(context.Background(), RawMessage{"_pr": "1", "_id": "3", "text": "c"})

	received := l.Received()
	require.Len(t, received, 1)
	assert.Equal(t, "2", received[0].ID)
	assert.Len(t, sink.Renders(), 3)
}

func TestOpen_NotifiesListenerOnce(t *testing.T) {
	sink := &recordingSink{}
	l := &recordingListener{}
	p := New(sink, WithListener(l))

	require.Equal(t, OutcomeShown, p.HandleMessage(context.Background(), RawMessage{"_pr": "1", "_id": "abc", "text": "Sale today!", "promo": "X"}))
	payload := sink.Renders()[0].Activation

	opened, ok := p.Open(context.Background(), payload)
	require.True(t, ok)
	assert.Equal(t, "abc", opened.Envelope.ID)
	assert.Equal(t, "X", opened.Envelope.Metadata["promo"])

	_, ok = p.Open(context.Background(), payload)
	assert.False(t, ok)

	require.Len(t, l.Opened(), 1)
	assert.Equal(t, opened.NotificationID, l.Opened()[0].NotificationID)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Opened)
	assert.True(t, stats.ListenerAttached)
	assert.Equal(t, StateOpened, p.Records()[0].State)
}

func TestOpen_ListenerPanicContained(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink, WithListener(&recordingListener{panicky: true}))

	require.Equal(t, OutcomeShown, p.HandleMessage(context.Background(), RawMessage{"_pr": "1", "text": "hi"}))
	_, ok := p.Open(context.Background(), sink.Renders()[0].Activation)
	assert.True(t, ok)
}

func TestOpen_ExactlyOnceAfterDeliveryKeysExpire(t *testing.T) {
	var mu sync.Mutex
	now := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store := dedup.NewMemoryStore(time.Hour, dedup.WithClock(clock))
	t.Cleanup(func() { store.Close() })

	sink := &recordingSink{}
	p := New(sink, WithIdentityStore(store), WithRegistry(NewRegistry(1)))
	ctx := context.Background()

	require.Equal(t, OutcomeShown, p.HandleMessage(ctx, RawMessage{"_pr": "1", "_id": "a", "text": "first"}))
	require.Equal(t, OutcomeShown, p.HandleMessage(ctx, RawMessage{"_pr": "1", "_id": "b", "text": "second"}))
	payload := sink.Renders()[0].Activation

	_, ok := p.Open(ctx, payload)
	require.True(t, ok)

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	_, ok = p.Open(ctx, payload)
	assert.False(t, ok)
	assert.Equal(t, int64(1), p.Stats().Opened)
}

func TestOpen_ExactlyOnceAfterDeliveryKeysEvicted(t *testing.T) {
	store := dedup.NewMemoryStore(0, dedup.WithMaxEntries(2))
	sink := &recordingSink{}
	p := New(sink, WithIdentityStore(store), WithRegistry(NewRegistry(1)))
	ctx := context.Background()

	require.Equal(t, OutcomeShown, p.HandleMessage(ctx, RawMessage{"_pr": "1", "_id": "a", "text": "first"}))
	payload := sink.Renders()[0].Activation
	_, ok := p.Open(ctx, payload)
	require.True(t, ok)

	require.Equal(t, OutcomeShown, p.HandleMessage(ctx, RawMessage{"_pr": "1", "_id": "b", "text": "second"}))
	require.Equal(t, OutcomeShown, p.HandleMessage(ctx, RawMessage{"_pr": "1", "_id": "c", "text": "third"}))

	_, ok = p.Open(ctx, payload)
	assert.False(t, ok)
	assert.Equal(t, int64(1), p.Stats().Opened)
}

func TestOpen_StuckListenerAbandoned(t *testing.T) {
	sink := &recordingSink{}
	l := &stuckListener{}
	p := New(sink, WithListener(l), WithDispatcherOptions(WithListenerTimeout(20*time.Millisecond)))
	ctx := context.Background()

	require.Equal(t, OutcomeShown, p.HandleMessage(ctx, RawMessage{"_pr": "1", "text": "hi"}))
	require.Len(t, sink.Renders(), 1)

	start := time.Now()
	_, ok := p.Open(ctx, sink.Renders()[0].Activation)
	assert.True(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.EqualValues(t, 2, l.calls.Load())
}

func TestOpen_Garbage(t *testing.T) {
	p := New(&recordingSink{})
	_, ok := p.Open(context.Background(), "garbage")
	assert.False(t, ok)
	assert.Equal(t, int64(0), p.Stats().Opened)
}

func TestDismiss_ThenOpen(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)

	require.Equal(t, OutcomeShown, p.HandleMessage(context.Background(), RawMessage{"_pr": "1", "text": "hi"}))
	rec := p.Records()[0]
	assert.True(t, p.Dismiss(context.Background(), rec.NotificationID))

	// A dismissed notification can still be opened from another surface.
	_, ok := p.Open(context.Background(), sink.Renders()[0].Activation)
	assert.True(t, ok)
	assert.Equal(t, StateOpened, p.Records()[0].State)
}

func TestListeners_FanOut(t *testing.T) {
	a, b := &recordingListener{}, &recordingListener{err: errors.New("b failed")}
	ls := Listeners{a, b}

	err := ls.OnReceived(context.Background(), Envelope{ID: "1"})
	assert.Error(t, err)
	assert.Len(t, a.Received(), 1)
	assert.Len(t, b.Received(), 1)
}
