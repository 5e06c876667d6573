package chunkring

import (
	"sync"

	"github.com/flier/ringalloc/internal/debug"
	"github.com/flier/ringalloc/pkg/xunsafe"
)

// OrphanPool is a process-wide holding area for Chunks whose owning Ring
// was torn down while they still had live blocks. It exists for
// cross-thread facades: a block may outlive the goroutine that allocated
// it, so its Chunk cannot simply be returned to Backing when that
// goroutine exits.
//
// A Chunk enters the pool with in_flight > 0 and is removed — and its
// storage returned to Backing — by whichever deallocation drives that
// counter to zero. The pool itself is a mutex-protected intrusive
// singly-linked list: Add pushes onto its head, and removing a Chunk (or
// counting them with Len) walks it from the head.
type OrphanPool struct {
	mu   sync.Mutex
	head *Chunk
}

// Add hands c over to the pool. If a concurrent Release has already
// driven c's in-flight count to zero — a race against the very Ring.Drop
// call that decided c wasn't reusable and needed orphaning in the first
// place — c is freed to backing immediately instead of being linked in,
// since no future Release will ever run for it to notice the zero.
//
// Setting orphaned and checking InFlight must happen under the same lock
// Release uses to decide whether to remove and free c: Release always
// decrements before it ever touches the lock, so whichever of Add/Release
// enters its critical section first sees a consistent, final answer for
// "is this chunk already drained" and exactly one of them frees it.
func (p *OrphanPool) Add(c *Chunk, backing Backing) {
	p.mu.Lock()

	if c.InFlight() == 0 {
		p.mu.Unlock()
		backing.Free(c.storage)

		return
	}

	c.orphaned.Store(true)
	c.orphanNext = p.head
	p.head = c

	p.mu.Unlock()
}

func (p *OrphanPool) remove(target *Chunk) {
	if p.head == target {
		p.head = target.orphanNext
		target.orphanNext = nil

		return
	}

	for c := p.head; c != nil; c = c.orphanNext {
		if c.orphanNext == target {
			c.orphanNext = target.orphanNext
			target.orphanNext = nil

			return
		}
	}
}

// Len reports how many Chunks are currently orphaned. Intended for tests
// and diagnostics; holds the pool's mutex.
func (p *OrphanPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for c := p.head; c != nil; c = c.orphanNext {
		n++
	}

	return n
}

// Release frees the block at addr, wherever it came from. Oversize blocks
// go straight back to backing. Ring-allocated blocks have their owning
// Chunk's in-flight count decremented; if that drives it to zero and the
// Chunk turns out to be orphaned, the Chunk is unlinked from the pool and
// its storage returned to backing. If the Chunk is not orphaned, its
// owning Ring is still alive and will reclaim it on a future rotation —
// Release leaves it alone.
//
// The in-flight decrement always happens before Release ever touches the
// pool mutex, so whichever of Release/Add takes the mutex first sees a
// final answer and exactly one of them performs the free; see Add.
func (p *OrphanPool) Release(addr xunsafe.Addr[byte], backing Backing) {
	h := headerAt(addr)

	if h.isOversize() {
		buf := h.buf()
		h.magic = headerMagicFree
		backing.Free(buf)

		return
	}

	c := h.chunk

	debug.Assert(h.magic == headerMagicLive, "release: double free of block at %v", addr)

	h.magic = headerMagicFree

	left := c.inFlight.Add(-1)
	debug.Assert(left >= 0, "release: chunk in-flight count went negative")

	if left != 0 {
		return
	}

	p.mu.Lock()

	if !c.orphaned.Load() {
		p.mu.Unlock()

		return
	}

	p.remove(c)
	p.mu.Unlock()

	backing.Free(c.storage)
}
