package global_test

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/flier/ringalloc/pkg/global"
	"github.com/flier/ringalloc/pkg/xunsafe"
)

// waitForOrphan polls OrphanCount rather than synchronizing on the spawned
// goroutine's return, since retireCurrentRing runs in a defer that fires
// after the goroutine passed to Go has already returned.
func waitForOrphan(t *testing.T) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if global.OrphanCount() > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAllocatorSingleGoroutine(t *testing.T) {
	Convey("Given the global allocator", t, func() {
		a := global.New()

		Convey("Allocating and deallocating on the same goroutine", func() {
			addr, err := a.Allocate(global.Layout{Size: 64, Align: 8})
			So(err, ShouldBeNil)
			So(uintptr(addr)%8, ShouldEqual, 0)

			a.Deallocate(addr, global.Layout{Size: 64, Align: 8})

			stats, err := a.Stats()
			So(err, ShouldBeNil)
			So(stats.FrontInFlight, ShouldEqual, 0)
		})
	})
}

func TestAllocatorCrossThread(t *testing.T) {
	Convey("Given a block allocated on one goroutine and freed on another, after the first exits", t, func() {
		a := global.New()

		type allocResult struct {
			addr uintptr
			err  error
		}

		resultCh := make(chan allocResult, 1)

		global.Go(func() {
			addr, err := a.Allocate(global.Layout{Size: 256, Align: 8})
			resultCh <- allocResult{addr: uintptr(addr), err: err}
		})

		got := <-resultCh
		So(got.err, ShouldBeNil)

		addr := xunsafe.Addr[byte](got.addr)

		waitForOrphan(t) // the owning goroutine has returned and Go has retired its ring

		Convey("The chunk carrying the block is orphaned after the owning goroutine exits", func() {
			So(global.OrphanCount(), ShouldBeGreaterThan, 0)

			done := make(chan struct{})
			go func() {
				a.Deallocate(addr, global.Layout{Size: 256, Align: 8})
				close(done)
			}()
			<-done

			Convey("After deallocation the orphan pool is empty again", func() {
				So(global.OrphanCount(), ShouldEqual, 0)
			})
		})
	})
}
