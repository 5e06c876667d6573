//go:build go1.20

package xunsafe

import (
	"fmt"
	"unsafe"

	"github.com/flier/ringalloc/pkg/xunsafe/layout"
)

// Addr is an untyped address into memory of element type E.
//
// It behaves like a *E for the purposes of arithmetic, but unlike a real
// pointer it may be invalid (out of bounds, unaligned, or simply zero)
// without the Go runtime or garbage collector caring: Addr does not keep
// anything alive and does not participate in pointer write barriers.
//
// This makes it the right type to describe a cursor into a Chunk's bump
// region, where intermediate values routinely point past the end of the
// backing allocation.
type Addr[E any] uintptr

// AddrOf returns the address of p.
func AddrOf[E any](p *E) Addr[E] {
	return Addr[E](unsafe.Pointer(p))
}

// EndOf returns the address immediately after the last element of s.
func EndOf[E any](s []E) Addr[E] {
	if len(s) == 0 {
		return Addr[E](unsafe.Pointer(unsafe.SliceData(s)))
	}
	return AddrOf(&s[0]).Add(len(s))
}

// Add returns a+n, scaled by the size of E.
func (a Addr[E]) Add(n int) Addr[E] {
	return a + Addr[E](n*layout.Size[E]())
}

// ByteAdd returns a+n, in bytes, unscaled.
func (a Addr[E]) ByteAdd(n int) Addr[E] {
	return a + Addr[E](n)
}

// Sub returns the number of elements of type E between a and b (a-b).
func (a Addr[E]) Sub(b Addr[E]) int {
	return int(a-b) / layout.Size[E]()
}

// AssertValid reinterprets a as a real pointer.
//
// This performs no validation beyond rejecting the zero address; the
// caller is responsible for knowing that a is actually valid.
func (a Addr[E]) AssertValid() *E {
	if a == 0 {
		return nil
	}
	return (*E)(unsafe.Pointer(uintptr(a)))
}

// Padding returns the number of bytes needed to round a up to align,
// which must be a power of two.
func (a Addr[E]) Padding(align int) int {
	return layout.Padding(int(a), align)
}

// RoundUpTo rounds a up to the given alignment, which must be a power of
// two.
func (a Addr[E]) RoundUpTo(align int) Addr[E] {
	return Addr[E](layout.RoundUp(int(a), align))
}

// SignBit returns whether the top bit of a is set.
func (a Addr[E]) SignBit() bool {
	return a&(1<<(unsafe.Sizeof(a)*8-1)) != 0
}

// SignBitMask returns all-ones if SignBit is set, and all-zeros otherwise.
func (a Addr[E]) SignBitMask() Addr[E] {
	if a.SignBit() {
		return ^Addr[E](0)
	}
	return 0
}

// ClearSignBit returns a with its top bit cleared.
func (a Addr[E]) ClearSignBit() Addr[E] {
	return a &^ (1 << (unsafe.Sizeof(a)*8 - 1))
}

func (a Addr[E]) String() string {
	return fmt.Sprintf("%#x", uintptr(a))
}

// Format implements fmt.Formatter so that %x and %v both print sensibly.
func (a Addr[E]) Format(s fmt.State, verb rune) {
	switch verb {
	case 'x', 'X':
		fmt.Fprintf(s, fmt.FormatString(s, verb), uintptr(a))
	default:
		fmt.Fprint(s, a.String())
	}
}
