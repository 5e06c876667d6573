package chunkring

import (
	"sync/atomic"

	"github.com/flier/ringalloc/internal/debug"
	"github.com/flier/ringalloc/pkg/opt"
	"github.com/flier/ringalloc/pkg/xunsafe"
)

// Chunk is a single fixed-size region of memory that blocks are bump
// allocated from. A Chunk never shrinks or compacts: it only ever hands out
// memory from cursor forward, and tracks how many of the blocks it has
// handed out are still live via inFlight.
//
// A Chunk is reusable once inFlight drops to zero; Reset rewinds cursor back
// to base so the same backing storage can be carved up again.
type Chunk struct {
	_ xunsafe.NoCopy

	base     xunsafe.Addr[byte]
	cursor   xunsafe.Addr[byte]
	capacity int
	inFlight atomic.Int32

	storage []byte // keeps the backing allocation reachable and is returned to Backing on retirement.

	next *Chunk // the next Chunk in the owning Ring.

	orphaned   atomic.Bool // set once, when the owning Ring hands the Chunk to an OrphanPool.
	orphanNext *Chunk      // intrusive link used only while orphaned.
}

func newChunk(storage []byte) *Chunk {
	c := &Chunk{capacity: len(storage), storage: storage}
	c.base = xunsafe.AddrOf(&storage[0])
	c.cursor = c.base

	return c
}

// end returns the address one past the last byte of the Chunk.
func (c *Chunk) end() xunsafe.Addr[byte] { return c.base.Add(c.capacity) }

// Remaining reports how many bytes are left between cursor and the end of
// the Chunk, ignoring alignment padding and header overhead.
func (c *Chunk) Remaining() int { return c.end().Sub(c.cursor) }

// InFlight reports how many blocks carved from this Chunk have not yet been
// released.
func (c *Chunk) InFlight() int32 { return c.inFlight.Load() }

// Reusable reports whether the Chunk has no live blocks and so may be
// Reset and placed back in front of the Ring.
func (c *Chunk) Reusable() bool { return c.inFlight.Load() == 0 }

// TryCarve attempts to bump-allocate size bytes aligned to align from the
// Chunk, writing a header immediately before the returned address. It
// returns None if the Chunk does not have enough remaining room.
func (c *Chunk) TryCarve(size, align int) opt.Option[xunsafe.Addr[byte]] {
	debug.Assert(align > 0 && align&(align-1) == 0, "align must be a power of two, got %d", align)

	mod := align
	if headerAlign > mod {
		mod = headerAlign
	}

	userAddr := c.cursor.Add(headerSize).RoundUpTo(mod)
	end := userAddr.Add(size)

	if end.Sub(c.base) > c.capacity {
		return opt.None[xunsafe.Addr[byte]]()
	}

	writeHeader(userAddr, c)

	c.cursor = end
	c.inFlight.Add(1)

	return opt.Some(userAddr)
}

// Release marks the block at addr, which must have been carved from this
// Chunk, as freed. It does not reclaim the bytes; only Reset does that,
// once every block carved from the Chunk has been released.
func (c *Chunk) Release(addr xunsafe.Addr[byte]) {
	h := headerAt(addr)

	debug.Assert(h.chunk == c, "release: block at %v does not belong to this chunk", addr)
	debug.Assert(h.magic == headerMagicLive, "release: double free of block at %v", addr)

	h.magic = headerMagicFree

	left := c.inFlight.Add(-1)

	debug.Assert(left >= 0, "release: chunk in-flight count went negative")
}

// Reset rewinds the Chunk back to its initial, empty state. The caller must
// ensure no blocks carved from the Chunk are still live.
func (c *Chunk) Reset() {
	debug.Assert(c.inFlight.Load() == 0, "reset: chunk still has %d live blocks", c.inFlight.Load())

	c.cursor = c.base
}
