package pushrelay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_PutGet(t *testing.T) {
	r := NewRegistry(0)
	r.Put(NotificationRecord{NotificationID: 1, State: StatePending, Envelope: Envelope{Metadata: map[string]string{"k": "v"}}})

	rec, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, StatePending, rec.State)

	// Returned copies do not alias internal state.
	rec.Envelope.Metadata["k"] = "mutated"
	again, _ := r.Get(1)
	assert.Equal(t, "v", again.Envelope.Metadata["k"])

	_, ok = r.Get(2)
	assert.False(t, ok)
}

func TestRegistry_Transition(t *testing.T) {
	r := NewRegistry(0)
	r.Put(NotificationRecord{NotificationID: 1, State: StatePending})

	_, ok := r.Transition(1, StateShown, StateOpened)
	assert.False(t, ok, "wrong from-state must not transition")

	rec, ok := r.Transition(1, StatePending, StateShown)
	require.True(t, ok)
	assert.Equal(t, StateShown, rec.State)

	rec, ok = r.Transition(1, StateShown, StateOpened)
	require.True(t, ok)
	assert.Equal(t, StateOpened, rec.State)

	rec, ok = r.Transition(1, StateOpened, StateDismissed)
	assert.False(t, ok, "opened records never change")
	assert.Equal(t, StateOpened, rec.State)

	_, ok = r.Transition(99, StatePending, StateShown)
	assert.False(t, ok)
}

func TestRegistry_MarkOpened(t *testing.T) {
	r := NewRegistry(0)
	r.Put(NotificationRecord{NotificationID: 1, Identity: "idn-a", State: StateDismissed})

	found, already := r.MarkOpened(1, "idn-b")
	assert.False(t, found)
	assert.False(t, already)
	rec, _ := r.Get(1)
	assert.Equal(t, StateDismissed, rec.State)

	found, already = r.MarkOpened(1, "idn-a")
	assert.True(t, found)
	assert.False(t, already)
	rec, _ = r.Get(1)
	assert.Equal(t, StateOpened, rec.State)

	found, already = r.MarkOpened(1, "idn-a")
	assert.True(t, found)
	assert.True(t, already)

	found, _ = r.MarkOpened(2, "idn-a")
	assert.False(t, found)
}

func TestRegistry_PrunesOldest(t *testing.T) {
	r := NewRegistry(3)
	for id := int64(1); id <= 5; id++ {
		r.Put(NotificationRecord{NotificationID: id})
	}
	assert.Equal(t, 3, r.Len())

	_, ok := r.Get(1)
	assert.False(t, ok)
	_, ok = r.Get(2)
	assert.False(t, ok)

	var ids []int64
	for _, rec := range r.List() {
		ids = append(ids, rec.NotificationID)
	}
	assert.Equal(t, []int64{3, 4, 5}, ids)
}

func TestRegistry_Delete(t *testing.T) {
	r := NewRegistry(0)
	r.Put(NotificationRecord{NotificationID: 1})
	r.Put(NotificationRecord{NotificationID: 2})
	r.Delete(1)
	r.Delete(42)

	assert.Equal(t, 1, r.Len())
	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0].NotificationID)
}
