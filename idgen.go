package pushrelay

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"sync/atomic"
	"time"
)

// IDGenerator hands out notification ids. Ids need to be unique among recent
// notifications of one process, not across restarts.
type IDGenerator interface {
	Next() int64
}

// SequenceIDs is a counter seeded from the wall clock in milliseconds, so ids
// keep increasing across quick restarts and never repeat within a process.
type SequenceIDs struct {
	next atomic.Int64
}

// NewSequenceIDs returns a SequenceIDs seeded from the current time.
func NewSequenceIDs() *SequenceIDs {
	return NewSequenceIDsFrom(time.Now().UnixMilli())
}

// NewSequenceIDsFrom returns a SequenceIDs whose first id is start.
func NewSequenceIDsFrom(start int64) *SequenceIDs {
	s := &SequenceIDs{}
	s.next.Store(start - 1)
	return s
}

// Next returns the previous id plus one.
func (s *SequenceIDs) Next() int64 {
	return s.next.Add(1)
}

// RandomIDs draws positive 63-bit ids from crypto/rand.
type RandomIDs struct{}

// NewRandomIDs returns a RandomIDs.
func NewRandomIDs() RandomIDs { return RandomIDs{} }

// Next returns a random positive id.
func (RandomIDs) Next() int64 {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			// crypto/rand does not fail on supported platforms.
			panic(err)
		}
		id := int64(binary.BigEndian.Uint64(b[:]) & math.MaxInt64)
		if id != 0 {
			return id
		}
	}
}
