// Package global provides a process-wide, cross-thread chunk-ring
// allocator: one Ring per goroutine, with a shared orphan pool that takes
// over Chunks left behind when a goroutine exits while blocks it carved
// are still live elsewhere.
package global

import (
	"github.com/timandy/routine"

	"github.com/flier/ringalloc/internal/debug"
	"github.com/flier/ringalloc/pkg/chunkring"
	"github.com/flier/ringalloc/pkg/xunsafe"
	"github.com/flier/ringalloc/pkg/xunsafe/layout"
)

// Layout describes the size and alignment of a requested allocation.
type Layout = layout.Layout

var ringTLS = routine.NewThreadLocal[*chunkring.Ring]()

// backing is always the default system backing allocator: the spec for
// this facade does not allow a caller-supplied one, since Chunks may be
// freed by a goroutine other than the one that allocated them.
var backing = chunkring.DefaultBacking

func currentRing() (*chunkring.Ring, error) {
	if r := ringTLS.Get(); r != nil {
		return r, nil
	}

	cfg := chunkring.DefaultConfig()
	cfg.Backing = backing

	r, err := chunkring.New(cfg)
	if err != nil {
		return nil, err
	}

	ringTLS.Set(r)

	return r, nil
}

// retireCurrentRing tears down the calling goroutine's Ring, if it has
// one: reusable Chunks go back to backing directly, and Chunks with live
// blocks are handed to the orphan pool. This is the closest analogue Go
// offers to a thread-exit destructor, and it only runs for goroutines
// started via Go — a bare `go func(){}()` leaks its Ring until the
// process exits.
func retireCurrentRing() {
	r := ringTLS.Get()
	if r == nil {
		return
	}

	ringTLS.Remove()

	r.Drop(func(c *chunkring.Chunk) {
		orphans.Add(c, backing)
		debug.Log(nil, "global", "orphaned chunk in_flight=%d", c.InFlight())
	})
}

// Go starts f on a new goroutine, and retires that goroutine's Ring once
// f returns (whether normally or by panicking). Allocations made with
// Allocator must happen on a goroutine started this way for their Ring to
// ever be reclaimed deterministically; the Ring of any other goroutine,
// main's initial goroutine included, is never retired.
func Go(f func()) {
	go func() {
		defer retireCurrentRing()

		f()
	}()
}

// Allocator is a zero-sized handle over the process-wide chunk-ring
// facility. Every goroutine gets its own Ring, lazily created on first
// use; all Allocator values are interchangeable and freely shareable
// across goroutines.
type Allocator struct{}

// New returns a handle to the global allocator. Since Allocator is
// zero-sized, this is equivalent to Allocator{}; New exists for
// symmetry with package local.
func New() Allocator { return Allocator{} }

// Allocate reserves a block matching l on the calling goroutine's Ring
// and returns its address.
func (Allocator) Allocate(l Layout) (xunsafe.Addr[byte], error) {
	r, err := currentRing()
	if err != nil {
		return 0, err
	}

	result := r.Allocate(l.Size, l.Align)
	if result.IsErr() {
		return 0, result.UnwrapErr()
	}

	return result.Unwrap(), nil
}

// AllocateZeroed is Allocate, followed by zeroing the returned bytes.
func (Allocator) AllocateZeroed(l Layout) (xunsafe.Addr[byte], error) {
	r, err := currentRing()
	if err != nil {
		return 0, err
	}

	result := r.AllocateZeroed(l.Size, l.Align)
	if result.IsErr() {
		return 0, result.UnwrapErr()
	}

	return result.Unwrap(), nil
}

// Deallocate frees a block previously returned by Allocate or
// AllocateZeroed, from any goroutine — not necessarily the one that
// allocated it. l is unused; it is accepted for symmetry with
// package local, whose facade mirrors the same allocator contract.
func (Allocator) Deallocate(addr xunsafe.Addr[byte], l Layout) {
	orphans.Release(addr, backing)
}

// Grow resizes the block at addr from oldLayout to newLayout, which must
// request a size no smaller than oldLayout's. Must be called from the
// goroutine that allocated addr if an in-place extension is to be
// possible; otherwise it degrades to allocate+copy+deallocate, which may
// run on any goroutine.
func (Allocator) Grow(addr xunsafe.Addr[byte], oldLayout, newLayout Layout) (xunsafe.Addr[byte], error) {
	r, err := currentRing()
	if err != nil {
		return 0, err
	}

	result := r.Grow(addr, oldLayout.Size, newLayout.Size, newLayout.Align)
	if result.IsErr() {
		return 0, result.UnwrapErr()
	}

	return result.Unwrap(), nil
}

// Shrink resizes the block at addr from oldLayout down to newLayout's
// size in place when possible. The address never changes. Unlike Grow,
// this never needs a Ring at all and so never allocates one.
func (Allocator) Shrink(addr xunsafe.Addr[byte], oldLayout, newLayout Layout) xunsafe.Addr[byte] {
	return chunkring.Shrink(addr, oldLayout.Size, newLayout.Size)
}

// Stats returns a snapshot of the calling goroutine's Ring.
func (Allocator) Stats() (chunkring.Stats, error) {
	r, err := currentRing()
	if err != nil {
		return chunkring.Stats{}, err
	}

	return r.Stats(), nil
}
