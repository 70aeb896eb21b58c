package pushrelay

import (
	"slices"
	"sync"
)

// DefaultMaxRecords is the registry size when none is configured.
const DefaultMaxRecords = 1000

// Registry keeps NotificationRecords in memory, keyed by notification id.
// Older records are pruned once the registry holds more than its cap.
type Registry struct {
	mu      sync.Mutex
	records map[int64]*NotificationRecord
	order   []int64
	max     int
}

// NewRegistry creates a Registry holding at most max records (DefaultMaxRecords if max <= 0).
func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = DefaultMaxRecords
	}
	return &Registry{
		records: make(map[int64]*NotificationRecord),
		max:     max,
	}
}

// Put stores a copy of rec, replacing any record with the same id.
func (r *Registry) Put(rec NotificationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.NotificationID]; !exists {
		r.order = append(r.order, rec.NotificationID)
	}
	cpy := rec
	cpy.Envelope = rec.Envelope.Clone()
	r.records[rec.NotificationID] = &cpy

	if len(r.order) > r.max {
		drop := r.order[:len(r.order)-r.max]
		for _, id := range drop {
			delete(r.records, id)
		}
		r.order = slices.Clone(r.order[len(r.order)-r.max:])
	}
}

// Get returns a copy of the record with the given id.
func (r *Registry) Get(id int64) (NotificationRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return NotificationRecord{}, false
	}
	return copyRecord(rec), true
}

// Transition moves a record from one state to another. It reports the record
// after the call and whether the state changed. A record in StateOpened never
// changes again.
func (r *Registry) Transition(id int64, from, to State) (NotificationRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return NotificationRecord{}, false
	}
	if rec.State != from || rec.State == StateOpened {
		return copyRecord(rec), false
	}
	rec.State = to
	return copyRecord(rec), true
}

// MarkOpened moves the record with id to StateOpened, but only when it was
// delivered under identity. It reports whether such a record exists and
// whether it was already opened.
func (r *Registry) MarkOpened(id int64, identity DeliveryIdentity) (found, already bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Identity != identity {
		return false, false
	}
	if rec.State == StateOpened {
		return true, true
	}
	rec.State = StateOpened
	return true, false
}

// Delete removes a record.
func (r *Registry) Delete(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return
	}
	delete(r.records, id)
	r.order = slices.DeleteFunc(r.order, func(v int64) bool { return v == id })
}

// List returns copies of all records, oldest first.
func (r *Registry) List() []NotificationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NotificationRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, copyRecord(r.records[id]))
	}
	return out
}

// Len returns the number of records held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func copyRecord(rec *NotificationRecord) NotificationRecord {
	cpy := *rec
	cpy.Envelope = rec.Envelope.Clone()
	return cpy
}
