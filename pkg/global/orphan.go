package global

import "github.com/flier/ringalloc/pkg/chunkring"

// orphans is the process-wide pool of Chunks left behind by goroutines
// that exited via Go while blocks carved from their Ring were still
// live elsewhere. See chunkring.OrphanPool for the mechanism; this
// package only owns the single process-wide instance and wires it into
// retireCurrentRing and Allocator.Deallocate.
var orphans chunkring.OrphanPool

// OrphanCount reports how many Chunks are currently held in the orphan
// pool. Exists mainly for tests that exercise thread-exit handoff.
func OrphanCount() int { return orphans.Len() }
