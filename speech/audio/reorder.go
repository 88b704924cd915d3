package audio

import (
	"sync"

	"github.com/charmbracelet/log"
)

// ReorderBuffer restores producer order over chunks that arrive in any
// permutation. Chunks are held in a pending map keyed by sequence id and
// released to the sink in strictly ascending id order, starting at 0.
//
// A chunk that will never arrive (expired artifact, undecodable payload)
// is skipped with Skip so the sequence can advance past it; stalling on
// a hole is never acceptable.
type ReorderBuffer struct {
	mu sync.Mutex
	// pending holds arrived chunks by id. A nil value is a tombstone
	// for a permanently skipped id.
	pending    map[int]*Chunk
	next       int
	outbox     []*Chunk
	delivering bool

	release func(*Chunk)
	logger  *log.Logger
}

// NewReorderBuffer creates a buffer that calls release for each chunk,
// in ascending id order. release is never called concurrently with
// itself.
func NewReorderBuffer(release func(*Chunk), logger *log.Logger) *ReorderBuffer {
	if logger == nil {
		logger = log.Default()
	}
	return &ReorderBuffer{
		pending: make(map[int]*Chunk),
		release: release,
		logger:  logger,
	}
}

// Submit accepts a chunk in any order. A duplicate of a still-pending id
// overwrites the earlier entry; an id below the release cursor is a late
// retransmit of something already played and is discarded.
func (b *ReorderBuffer) Submit(chunk *Chunk) {
	b.mu.Lock()
	if chunk.ID < b.next {
		b.mu.Unlock()
		b.logger.Debug("discarding stale chunk", "id", chunk.ID, "next", b.next)
		return
	}
	b.pending[chunk.ID] = chunk
	b.drainLocked()
}

// Skip marks an id as permanently unavailable so release order can
// advance past it.
func (b *ReorderBuffer) Skip(id int) {
	b.mu.Lock()
	if id < b.next {
		b.mu.Unlock()
		return
	}
	b.pending[id] = nil
	b.drainLocked()
}

// drainLocked moves every consecutively ready chunk from the pending map
// to the outbox and delivers the outbox. Entered with b.mu held; returns
// with it released.
func (b *ReorderBuffer) drainLocked() {
	for {
		chunk, ok := b.pending[b.next]
		if !ok {
			break
		}
		delete(b.pending, b.next)
		b.next++
		if chunk != nil {
			b.outbox = append(b.outbox, chunk)
		}
	}

	// One goroutine at a time works the outbox, so release sees ids in
	// ascending order even under concurrent submits.
	if b.delivering {
		b.mu.Unlock()
		return
	}
	b.delivering = true
	for len(b.outbox) > 0 {
		chunk := b.outbox[0]
		b.outbox = b.outbox[1:]
		b.mu.Unlock()
		b.release(chunk)
		b.mu.Lock()
	}
	b.delivering = false
	b.mu.Unlock()
}

// Reset drops all pending chunks and rewinds the cursor to 0 for a new
// response cycle.
func (b *ReorderBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = make(map[int]*Chunk)
	b.outbox = nil
	b.next = 0
}

// NextID returns the id the buffer is waiting on.
func (b *ReorderBuffer) NextID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

// PendingCount returns the number of buffered out-of-order entries,
// including skip tombstones.
func (b *ReorderBuffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
