package chunkring

import (
	"math/bits"

	"github.com/flier/ringalloc/internal/xsync"
)

// Backing is how a Ring obtains and releases the storage behind its Chunks,
// and behind oversize blocks that bypass the ring entirely.
//
// Implementations must be safe for concurrent use; a GlobalAllocator shares
// a single Backing across every goroutine's Ring.
type Backing interface {
	Alloc(size int) ([]byte, error)
	Free(buf []byte)
}

// Malloc is a Backing that allocates directly from the Go heap and never
// pools anything. Useful for short-lived allocators where pooling overhead
// isn't worth paying for.
var Malloc Backing = mallocBacking{}

type mallocBacking struct{}

func (mallocBacking) Alloc(size int) ([]byte, error) { return make([]byte, size), nil }
func (mallocBacking) Free([]byte)                    {}

// DefaultBacking pools Chunk-sized buffers in power-of-two size classes, so
// that retiring and regrowing Rings under steady-state load doesn't keep
// hitting the Go allocator.
var DefaultBacking Backing = NewPooledBacking(poolMinSize, poolMaxSize)

const (
	poolMinSize = 4 << 10
	poolMaxSize = 16 << 20
)

// pooledBacking buckets allocations into power-of-two size classes, each
// backed by its own xsync.Pool[[]byte], in the same spirit as a
// fixed-size-class slab allocator: requests get rounded up to the nearest
// class, and a Free only returns a buffer to its pool if the capacity
// matches exactly.
type pooledBacking struct {
	min, max int
	pools    []*xsync.Pool[[]byte]
}

// NewPooledBacking returns a Backing with power-of-two size classes between
// min and max (inclusive). Allocations no larger than min are served from
// the min class; allocations larger than max fall back to a bare
// make([]byte, size), and are never pooled.
func NewPooledBacking(min, max int) Backing {
	b := &pooledBacking{min: min, max: max}

	for size := min; size <= max; size <<= 1 {
		size := size
		b.pools = append(b.pools, &xsync.Pool[[]byte]{
			New: func() *[]byte {
				buf := make([]byte, size)
				return &buf
			},
		})
	}

	return b
}

func (b *pooledBacking) classOf(size int) int {
	if size <= b.min {
		return 0
	}

	return bits.Len(uint(size-1)) - bits.Len(uint(b.min-1))
}

func (b *pooledBacking) Alloc(size int) ([]byte, error) {
	if size > b.max {
		return make([]byte, size), nil
	}

	i := b.classOf(size)
	if i >= len(b.pools) {
		return make([]byte, size), nil
	}

	class := b.min << i
	buf := *b.pools[i].Get()

	return buf[:class], nil
}

func (b *pooledBacking) Free(buf []byte) {
	c := cap(buf)
	if c < b.min || c&(c-1) != 0 || c > b.max {
		return
	}

	i := b.classOf(c)
	if i >= len(b.pools) {
		return
	}

	cp := buf[:c]
	b.pools[i].Put(&cp)
}
