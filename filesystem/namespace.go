package filesystem

import (
	"fmt"
	"iter"
	"slices"

	"github.com/brettbedarf/vylfs"
)

// dirIndex holds the entries of one parent in insertion order
type dirIndex struct {
	names  []string
	byName map[string]uint64
}

// Namespace maps (parent, name) pairs to child identifiers.
// Children of a parent are kept in insertion order so that repeated listings
// without mutation in between enumerate them identically.
//
// NOTE: Namespace is not thread-safe; the owning FileSystem serializes access.
type Namespace struct {
	dirs    map[uint64]*dirIndex
	parents map[uint64]uint64 // child -> parent reverse index
}

func NewNamespace() *Namespace {
	return &Namespace{
		dirs:    make(map[uint64]*dirIndex),
		parents: make(map[uint64]uint64),
	}
}

// Lookup returns the child bound to name in parent
func (ns *Namespace) Lookup(parent uint64, name string) (uint64, bool) {
	d, ok := ns.dirs[parent]
	if !ok {
		return 0, false
	}
	id, ok := d.byName[name]
	return id, ok
}

// Insert binds name in parent to child. Fails if the name is already taken.
func (ns *Namespace) Insert(parent uint64, name string, child uint64) error {
	d, ok := ns.dirs[parent]
	if !ok {
		d = &dirIndex{byName: make(map[string]uint64)}
		ns.dirs[parent] = d
	}
	if _, exists := d.byName[name]; exists {
		return fmt.Errorf("%q in %d: %w", name, parent, vylfs.ErrExists)
	}
	d.byName[name] = child
	d.names = append(d.names, name)
	ns.parents[child] = parent
	return nil
}

// Remove unbinds name from parent and returns the child it pointed to
func (ns *Namespace) Remove(parent uint64, name string) (uint64, error) {
	d, ok := ns.dirs[parent]
	if !ok {
		return 0, fmt.Errorf("%q in %d: %w", name, parent, vylfs.ErrNotFound)
	}
	child, ok := d.byName[name]
	if !ok {
		return 0, fmt.Errorf("%q in %d: %w", name, parent, vylfs.ErrNotFound)
	}
	delete(d.byName, name)
	if i := slices.Index(d.names, name); i >= 0 {
		d.names = slices.Delete(d.names, i, i+1)
	}
	if len(d.byName) == 0 {
		delete(ns.dirs, parent)
	}
	delete(ns.parents, child)
	return child, nil
}

// ChildrenOf yields every (name, child) bound in parent in insertion order.
// The namespace must not be mutated while iterating.
func (ns *Namespace) ChildrenOf(parent uint64) iter.Seq2[string, uint64] {
	return func(yield func(string, uint64) bool) {
		d, ok := ns.dirs[parent]
		if !ok {
			return
		}
		for _, name := range d.names {
			if !yield(name, d.byName[name]) {
				return
			}
		}
	}
}

// IsEmpty reports whether dir has no children
func (ns *Namespace) IsEmpty(dir uint64) bool {
	d, ok := ns.dirs[dir]
	return !ok || len(d.byName) == 0
}

// ParentOf returns the directory child is bound in, or the root when child
// has no entry (the root's own "..").
func (ns *Namespace) ParentOf(child uint64) uint64 {
	if p, ok := ns.parents[child]; ok {
		return p
	}
	return vylfs.RootID
}

// Len returns the total number of entries
func (ns *Namespace) Len() int {
	return len(ns.parents)
}
