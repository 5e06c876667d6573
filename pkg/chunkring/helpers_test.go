package chunkring_test

import (
	"unsafe"

	"github.com/flier/ringalloc/pkg/xunsafe"
)

func unsafeBytes(addr xunsafe.Addr[byte], n int) []byte {
	return unsafe.Slice(addr.AssertValid(), n)
}

func addrFromUintptr(u uintptr) xunsafe.Addr[byte] {
	return xunsafe.Addr[byte](u)
}
