package dedup

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// sweepInterval is how often expired entries are removed.
const sweepInterval = 1 * time.Minute

type entry struct {
	key       string
	expiresAt time.Time // zero means never
}

// MemoryStore is an in-process first-seen set. Entries expire after the
// configured TTL (never when the TTL is zero) and the oldest entries are
// evicted once MaxEntries is exceeded.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// MemoryOption configures MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxEntries caps the number of live keys. Zero means unbounded.
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) {
		s.maxEntries = n
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates a MemoryStore. A positive ttl starts a background
// sweeper that Close stops.
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if ttl > 0 {
		go s.sweepLoop()
	}
	return s
}

// Claim records key and reports whether this call was the first to see it.
func (s *MemoryStore) Claim(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.liveLocked(key, now) {
		return false, nil
	}
	s.insertLocked(key, now)
	return true, nil
}

// Seen reports whether key is live.
func (s *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked(key, s.now()), nil
}

// Record marks key as seen, refreshing its expiry.
func (s *MemoryStore) Record(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(key, s.now())
	return nil
}

// Len returns the number of stored keys, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the sweeper.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *MemoryStore) liveLocked(key string, now time.Time) bool {
	el, ok := s.entries[key]
	if !ok {
		return false
	}
	e := el.Value.(*entry)
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		s.order.Remove(el)
		delete(s.entries, key)
		return false
	}
	return true
}

func (s *MemoryStore) insertLocked(key string, now time.Time) {
	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = now.Add(s.ttl)
	}
	if el, ok := s.entries[key]; ok {
		el.Value.(*entry).expiresAt = expiresAt
		s.order.MoveToBack(el)
	} else {
		s.entries[key] = s.order.PushBack(&entry{key: key, expiresAt: expiresAt})
	}

	for s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*entry).key)
	}
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			s.order.Remove(el)
			delete(s.entries, e.key)
		}
		el = next
	}
}
