// Package local provides a single-threaded chunk-ring allocator.
//
// An Allocator owns one chunkring.Ring. Handles may be cloned cheaply —
// clones alias the same Ring — but an Allocator and its clones must never
// cross goroutines; use package global for that.
package local

import (
	"fmt"

	"github.com/timandy/routine"

	"github.com/flier/ringalloc/internal/debug"
	"github.com/flier/ringalloc/pkg/chunkring"
	"github.com/flier/ringalloc/pkg/xunsafe"
	"github.com/flier/ringalloc/pkg/xunsafe/layout"
)

// Layout describes the size and alignment of a requested allocation.
type Layout = layout.Layout

// cell is the reference-counted state shared by an Allocator and its
// clones. It, not the Allocator value itself, owns the Ring.
type cell struct {
	ring *chunkring.Ring
	refs int
}

// Allocator is a handle over a single-threaded Ring.
//
// # Thread Safety
//
// An Allocator, and any clones of it, must only ever be used from the
// goroutine that created it. Debug builds assert this on every call.
type Allocator struct {
	c    *cell
	goid int64
}

// New creates an Allocator with the default Config.
func New() (Allocator, error) {
	return NewWithConfig(chunkring.DefaultConfig())
}

// NewWithBacking creates an Allocator with the default Config, but a
// caller-supplied Backing in place of chunkring.DefaultBacking.
func NewWithBacking(backing chunkring.Backing) (Allocator, error) {
	cfg := chunkring.DefaultConfig()
	cfg.Backing = backing

	return NewWithConfig(cfg)
}

// NewWithConfig creates an Allocator from a fully specified Config.
func NewWithConfig(cfg chunkring.Config) (Allocator, error) {
	ring, err := chunkring.New(cfg)
	if err != nil {
		return Allocator{}, err
	}

	return Allocator{c: &cell{ring: ring, refs: 1}, goid: routine.Goid()}, nil
}

func (a Allocator) checkThread() {
	if !debug.Enabled {
		return
	}

	debug.Assert(
		routine.Goid() == a.goid,
		"local: Allocator created on goroutine %d used from goroutine %d", a.goid, routine.Goid(),
	)
}

// Allocate reserves a block matching l and returns its address.
func (a Allocator) Allocate(l Layout) (xunsafe.Addr[byte], error) {
	a.checkThread()

	result := a.c.ring.Allocate(l.Size, l.Align)
	if result.IsErr() {
		return 0, result.UnwrapErr()
	}

	return result.Unwrap(), nil
}

// AllocateZeroed is Allocate, followed by zeroing the returned bytes.
func (a Allocator) AllocateZeroed(l Layout) (xunsafe.Addr[byte], error) {
	a.checkThread()

	result := a.c.ring.AllocateZeroed(l.Size, l.Align)
	if result.IsErr() {
		return 0, result.UnwrapErr()
	}

	return result.Unwrap(), nil
}

// Deallocate frees a block previously returned by Allocate or
// AllocateZeroed. l must describe the same layout the block was
// allocated with; double-free is undefined behavior.
func (a Allocator) Deallocate(addr xunsafe.Addr[byte], l Layout) {
	a.checkThread()

	a.c.ring.Deallocate(addr)
}

// Grow resizes the block at addr from oldLayout to newLayout, which must
// request a size no smaller than oldLayout's. The address may change.
func (a Allocator) Grow(addr xunsafe.Addr[byte], oldLayout, newLayout Layout) (xunsafe.Addr[byte], error) {
	a.checkThread()

	result := a.c.ring.Grow(addr, oldLayout.Size, newLayout.Size, newLayout.Align)
	if result.IsErr() {
		return 0, result.UnwrapErr()
	}

	return result.Unwrap(), nil
}

// Shrink resizes the block at addr from oldLayout down to newLayout's
// size in place. The address never changes.
func (a Allocator) Shrink(addr xunsafe.Addr[byte], oldLayout, newLayout Layout) xunsafe.Addr[byte] {
	a.checkThread()

	return a.c.ring.Shrink(addr, oldLayout.Size, newLayout.Size)
}

// Clone returns a new handle aliasing the same Ring as a. The Ring is
// torn down only once every clone has been Closed.
func (a Allocator) Clone() Allocator {
	a.checkThread()

	a.c.refs++

	return a
}

// Close releases this handle. Once the last clone of an Allocator has
// been closed, the underlying Ring is torn down and its reusable Chunks
// are returned to the backing allocator. Chunks that still have live
// blocks at that point are abandoned: package local has no orphan pool,
// unlike package global, because a Local Ring never crosses goroutines.
func (a Allocator) Close() error {
	a.checkThread()

	a.c.refs--

	switch {
	case a.c.refs > 0:
		return nil
	case a.c.refs < 0:
		return fmt.Errorf("local: Allocator closed more times than it was cloned")
	default:
		a.c.ring.Drop(nil)

		return nil
	}
}

// Stats returns a snapshot of the underlying Ring's current shape.
func (a Allocator) Stats() chunkring.Stats {
	a.checkThread()

	return a.c.ring.Stats()
}
