package chunkring

import (
	"unsafe"

	"github.com/flier/ringalloc/pkg/xunsafe"
	"github.com/flier/ringalloc/pkg/xunsafe/layout"
)

// header prefixes every block handed out by a Ring, whether carved from a
// Chunk's bump region or obtained directly from the backing allocator.
//
// chunk is the owning Chunk for ring-allocated blocks, and nil for oversize
// blocks; that nil-ness is the sentinel a caller-side Deallocate uses to
// decide which path frees the block. For an oversize block, base and size
// describe the dedicated backing buffer (header included) so it can be
// handed back to the Backing verbatim; a ring-allocated block leaves both
// zero. magic is a debug-only double-free tripwire.
type header struct {
	chunk *Chunk
	base  unsafe.Pointer
	size  int
	magic uint32
}

const (
	headerMagicLive uint32 = 0xC0FFEE11
	headerMagicFree uint32 = 0x0
)

var headerLayout = layout.Of[header]()

var (
	headerSize  = headerLayout.Size
	headerAlign = headerLayout.Align
)

// headerAt returns the header immediately preceding the block at addr.
func headerAt(addr xunsafe.Addr[byte]) *header {
	return (*header)(unsafe.Pointer(uintptr(addr) - uintptr(headerSize)))
}

// writeHeader places a ring-block header for chunk immediately before addr.
func writeHeader(addr xunsafe.Addr[byte], chunk *Chunk) {
	h := headerAt(addr)
	h.chunk = chunk
	h.base = nil
	h.size = 0
	h.magic = headerMagicLive
}

// writeOversizeHeader places an oversize-block header immediately before
// addr, recording the dedicated backing buffer it was carved from.
func writeOversizeHeader(addr xunsafe.Addr[byte], buf []byte) {
	h := headerAt(addr)
	h.chunk = nil
	h.base = unsafe.Pointer(&buf[0])
	h.size = len(buf)
	h.magic = headerMagicLive
}

func (h *header) isOversize() bool { return h.chunk == nil }

// buf reconstructs the original backing buffer of an oversize header.
func (h *header) buf() []byte {
	return unsafe.Slice((*byte)(h.base), h.size)
}
