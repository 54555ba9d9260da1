package pipeline

import (
	"sync/atomic"
	"time"
)

// Stamp is the triplet every outbound message carries: a strictly
// increasing sequence id, a server timestamp, and whether the message is
// a partial preview or a committed final.
type Stamp struct {
	SeqID           uint64
	ServerTimestamp int64
	IsPartial       bool
}

// Timeline issues strictly increasing sequence ids for a single session.
// It has no other responsibility: listeners render strictly in SeqID
// order and treat gaps as transport loss, not reordering.
type Timeline struct {
	nextSeqID uint64
}

// NewTimeline creates a Timeline starting at sequence id 1.
func NewTimeline() *Timeline {
	return &Timeline{}
}

// Stamp allocates the next sequence id and stamps the current wall-clock
// time onto it.
func (t *Timeline) Stamp(isPartial bool) Stamp {
	id := atomic.AddUint64(&t.nextSeqID, 1)
	return Stamp{
		SeqID:           id,
		ServerTimestamp: time.Now().UnixMilli(),
		IsPartial:       isPartial,
	}
}

// Peek returns the sequence id that would be issued by the next Stamp
// call, without consuming it. Used only for diagnostics/tests.
func (t *Timeline) Peek() uint64 {
	return atomic.LoadUint64(&t.nextSeqID) + 1
}
