package chunkring_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/flier/ringalloc/pkg/chunkring"
)

func TestPooledBacking(t *testing.T) {
	Convey("Given a pooled backing with 4KiB..64KiB classes", t, func() {
		b := chunkring.NewPooledBacking(4<<10, 64<<10)

		Convey("Allocating rounds up to the next size class", func() {
			buf, err := b.Alloc(5000)
			So(err, ShouldBeNil)
			So(len(buf), ShouldEqual, 8<<10)
		})

		Convey("Allocating above the max falls back to a bare allocation", func() {
			buf, err := b.Alloc(100 << 10)
			So(err, ShouldBeNil)
			So(len(buf), ShouldEqual, 100<<10)
		})

		Convey("Freeing and reallocating the same class returns a buffer of that class's size", func() {
			buf, err := b.Alloc(4 << 10)
			So(err, ShouldBeNil)

			buf[0] = 0x42
			b.Free(buf)

			buf2, err := b.Alloc(4 << 10)
			So(err, ShouldBeNil)
			So(len(buf2), ShouldEqual, 4<<10)
		})
	})
}

func TestMallocBacking(t *testing.T) {
	Convey("Given the Malloc backing", t, func() {
		buf, err := chunkring.Malloc.Alloc(128)
		So(err, ShouldBeNil)
		So(len(buf), ShouldEqual, 128)

		Convey("Freeing is a no-op", func() {
			So(func() { chunkring.Malloc.Free(buf) }, ShouldNotPanic)
		})
	})
}
