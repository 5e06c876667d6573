package chunkring

import (
	"math"

	"github.com/flier/ringalloc/internal/debug"
	"github.com/flier/ringalloc/pkg/res"
	"github.com/flier/ringalloc/pkg/xunsafe"
)

// Ring is a cyclic list of Chunks with a designated front Chunk that
// services bump allocations. When the front runs out of room, the Ring
// either rotates in the Chunk behind it (if reusable) or grows by
// allocating a new one from its Backing.
//
// A Ring is not safe for concurrent allocation; LocalAllocator enforces
// single-threaded use directly, and GlobalAllocator gives each goroutine
// its own Ring so that only Deallocate ever crosses goroutines.
type Ring struct {
	_ xunsafe.NoCopy

	front         *Chunk
	count         int
	nextChunkSize int
	cfg           Config
}

// New creates a Ring with a single Chunk sized at cfg.MinChunkSize.
func New(cfg Config) (*Ring, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	r := &Ring{cfg: cfg, nextChunkSize: cfg.MinChunkSize}

	c, err := r.allocChunk(cfg.MinChunkSize)
	if err != nil {
		return nil, err
	}

	c.next = c
	r.front = c
	r.count = 1
	r.bumpNextChunkSize()

	return r, nil
}

func (r *Ring) allocChunk(size int) (*Chunk, error) {
	buf, err := r.cfg.Backing.Alloc(size)
	if err != nil {
		return nil, &OutOfMemoryError{Requested: size, Cause: err}
	}

	return newChunk(buf), nil
}

func (r *Ring) bumpNextChunkSize() {
	next := r.nextChunkSize * r.cfg.GrowthFactor
	if next > r.cfg.MaxChunkSize || next <= 0 {
		next = r.cfg.MaxChunkSize
	}

	r.nextChunkSize = next
}

func (r *Ring) emit(kind EventKind) {
	r.emitFor(kind, r.front)
}

func (r *Ring) emitFor(kind EventKind, c *Chunk) {
	if r.cfg.OnEvent != nil {
		r.cfg.OnEvent(Event{Kind: kind, ChunkCapacity: c.capacity, RingChunks: r.count})
	}

	debug.Log(nil, "ring", "%s chunks=%d chunk_cap=%d", kind, r.count, c.capacity)
}

// Stats is a snapshot of a Ring's current shape, mainly useful for tests
// and diagnostics.
type Stats struct {
	Chunks        int
	FrontCapacity int
	FrontInFlight int32
}

// Stats returns a snapshot of the Ring's current shape.
func (r *Ring) Stats() Stats {
	return Stats{
		Chunks:        r.count,
		FrontCapacity: r.front.capacity,
		FrontInFlight: r.front.InFlight(),
	}
}

func isPow2(align int) bool { return align > 0 && align&(align-1) == 0 }

// Allocate reserves size bytes aligned to align and returns the address of
// the usable region.
func (r *Ring) Allocate(size, align int) res.Result[xunsafe.Addr[byte]] {
	if size < 0 || !isPow2(align) {
		return res.Err[xunsafe.Addr[byte]](&LayoutOverflowError{Size: size, Align: align})
	}

	// A header-size-and-alignment-padded size must itself fit in an int
	// without wrapping, or neither the oversize path's total nor a
	// Chunk's userAddr.Add(size) can be trusted not to overflow.
	mod := align
	if headerAlign > mod {
		mod = headerAlign
	}

	if size > math.MaxInt-headerSize-mod {
		return res.Err[xunsafe.Addr[byte]](&LayoutOverflowError{Size: size, Align: align})
	}

	// A block that could not fit even an empty Chunk of MaxChunkSize, once
	// its header and worst-case alignment padding are counted, is oversize
	// too, whatever OversizeThreshold says.
	if size > r.cfg.OversizeThreshold || size > r.cfg.MaxChunkSize-headerSize-mod {
		return r.allocateOversize(size, align)
	}

	need := size + headerSize + mod

	for {
		carved := r.front.TryCarve(size, align)
		if carved.IsSome() {
			return res.Ok(carved.Unwrap())
		}

		if err := r.advance(need); err != nil {
			return res.Err[xunsafe.Addr[byte]](err)
		}
	}
}

// advance makes an empty Chunk with at least need bytes of capacity the
// front: the Chunk behind front if it is reusable and large enough, else
// the front itself if it is reusable and large enough (reset in place),
// else a freshly allocated Chunk spliced in as the new front. A
// subsequent TryCarve of a block whose size, header and padding add up to
// need therefore succeeds.
func (r *Ring) advance(need int) error {
	next := r.front.next

	if next.Reusable() && next.capacity >= need {
		next.Reset()
		r.front = next
		r.emit(EventRotate)

		return nil
	}

	if r.front.Reusable() && r.front.capacity >= need {
		r.front.Reset()
		r.emit(EventRotate)

		return nil
	}

	size := r.nextChunkSize
	if size < need {
		size = need
	}

	c, err := r.allocChunk(size)
	if err != nil {
		return err
	}

	c.next = r.front.next
	r.front.next = c
	r.front = c
	r.count++
	r.bumpNextChunkSize()
	r.emit(EventGrow)

	return nil
}

// allocateOversize satisfies a request that bypasses the Ring entirely,
// going straight to Backing for a dedicated buffer.
func (r *Ring) allocateOversize(size, align int) res.Result[xunsafe.Addr[byte]] {
	mod := align
	if headerAlign > mod {
		mod = headerAlign
	}

	// Enough slack to place the header and still satisfy align no matter
	// where the backing buffer happens to start.
	total := size + headerSize + mod

	buf, err := r.cfg.Backing.Alloc(total)
	if err != nil {
		return res.Err[xunsafe.Addr[byte]](&OutOfMemoryError{Requested: total, Cause: err})
	}

	base := xunsafe.AddrOf(&buf[0])
	userAddr := base.Add(headerSize).RoundUpTo(mod)

	writeOversizeHeader(userAddr, buf)
	r.emit(EventOversize)

	return res.Ok(userAddr)
}

// AllocateZeroed is Allocate followed by zeroing the returned bytes.
func (r *Ring) AllocateZeroed(size, align int) res.Result[xunsafe.Addr[byte]] {
	result := r.Allocate(size, align)
	if result.IsOk() {
		addr := result.Unwrap()
		xunsafe.Clear(addr.AssertValid(), size)
	}

	return result
}

// Deallocate frees the block at addr, which must have come from a prior
// call to Allocate/AllocateZeroed on this Ring.
func (r *Ring) Deallocate(addr xunsafe.Addr[byte]) {
	h := headerAt(addr)

	if h.isOversize() {
		buf := h.buf()
		h.magic = headerMagicFree
		r.cfg.Backing.Free(buf)
		r.emit(EventOversize)

		return
	}

	h.chunk.Release(addr)
}

// Grow resizes the block at addr from oldSize to newSize, copying its
// contents if a new block had to be allocated. It probes for an in-place
// extension first: if addr was the most recent allocation on this Ring's
// front Chunk and that Chunk has enough trailing room, the cursor is
// simply advanced. Blocks on any other Chunk, including Chunks of other
// Rings, are always moved.
func (r *Ring) Grow(addr xunsafe.Addr[byte], oldSize, newSize, align int) res.Result[xunsafe.Addr[byte]] {
	if newSize <= oldSize {
		return res.Ok(addr)
	}

	h := headerAt(addr)

	if !h.isOversize() {
		c := h.chunk
		newEnd := addr.Add(newSize)

		if c == r.front && addr.Add(oldSize) == c.cursor && newEnd.Sub(c.base) <= c.capacity {
			c.cursor = newEnd

			return res.Ok(addr)
		}
	}

	result := r.Allocate(newSize, align)
	if result.IsErr() {
		return result
	}

	newAddr := result.Unwrap()
	xunsafe.Copy(newAddr.AssertValid(), addr.AssertValid(), oldSize)
	r.Deallocate(addr)

	return res.Ok(newAddr)
}

// Shrink resizes the block at addr from oldSize down to newSize in place.
// The address never changes. If addr was the most recent allocation on
// its Chunk, the Chunk's cursor is pulled back so the trailing bytes can
// be carved again; otherwise they are only reclaimed once the whole block
// is deallocated.
//
// Unlike Allocate/Grow, Shrink never needs the Ring itself — addr's own
// header already identifies the Chunk to adjust — so it is also exposed
// as the free function Shrink for callers, like the global facade, that
// have a block's address but not necessarily a handle on its owning Ring.
func (r *Ring) Shrink(addr xunsafe.Addr[byte], oldSize, newSize int) xunsafe.Addr[byte] {
	return Shrink(addr, oldSize, newSize)
}

// Shrink resizes the block at addr from oldSize down to newSize in place,
// regardless of which Ring (if any) the caller has at hand.
func Shrink(addr xunsafe.Addr[byte], oldSize, newSize int) xunsafe.Addr[byte] {
	if newSize >= oldSize {
		return addr
	}

	h := headerAt(addr)

	if !h.isOversize() {
		c := h.chunk
		if addr.Add(oldSize) == c.cursor {
			c.cursor = addr.Add(newSize)
		}
	}

	return addr
}

// Drop tears down the Ring, returning every reusable Chunk to Backing.
// Chunks that still have live blocks are passed to orphan instead of
// being freed; orphan is responsible for arranging for them to be freed
// once their in-flight count reaches zero. orphan may be nil, in which
// case Chunks with live blocks are simply abandoned.
func (r *Ring) Drop(orphan func(*Chunk)) {
	if r.front == nil {
		return
	}

	c := r.front

	for i := 0; i < r.count; i++ {
		next := c.next

		if c.Reusable() {
			r.cfg.Backing.Free(c.storage)
			r.emitFor(EventRetire, c)
		} else if orphan != nil {
			orphan(c)
		}

		c = next
	}

	r.front = nil
	r.count = 0
}
