package fuse

import "github.com/puzpuzpuz/xsync/v4"

// kernelRefs tracks the kernel's lookup count per identifier. go-fuse calls
// Lookup/Create/Mkdir and Forget from concurrent workers, so the counts live
// in a lock-free map outside the engine lock. Every update goes through
// Compute, making each increment or decrement-and-delete atomic per key.
//
// The counts are bookkeeping only: identifiers are reclaimed by unlink/rmdir,
// never by Forget.
type kernelRefs struct {
	counts *xsync.Map[uint64, int64]
}

func newKernelRefs() *kernelRefs {
	return &kernelRefs{counts: xsync.NewMap[uint64, int64]()}
}

// inc records one more kernel reference to id
func (r *kernelRefs) inc(id uint64) {
	r.counts.Compute(id, func(old int64, _ bool) (int64, xsync.ComputeOp) {
		return old + 1, xsync.UpdateOp
	})
}

// forget drops n references to id and returns the remaining count.
// The entry is removed once nothing is left.
func (r *kernelRefs) forget(id uint64, n uint64) int64 {
	left, _ := r.counts.Compute(id, func(old int64, loaded bool) (int64, xsync.ComputeOp) {
		if !loaded {
			return 0, xsync.CancelOp
		}
		if remaining := old - int64(n); remaining > 0 {
			return remaining, xsync.UpdateOp
		}
		return 0, xsync.DeleteOp
	})
	return left
}

// get returns the current reference count of id
func (r *kernelRefs) get(id uint64) int64 {
	c, _ := r.counts.Load(id)
	return c
}

// size returns the number of identifiers with outstanding references
func (r *kernelRefs) size() int {
	return r.counts.Size()
}
