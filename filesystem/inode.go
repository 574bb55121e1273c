package filesystem

import (
	"fmt"

	"github.com/brettbedarf/vylfs"
)

// InodeTable maps identifiers to attribute records and hands out new
// identifiers. Identifiers are never reused, even after removal.
//
// NOTE: InodeTable is not thread-safe; the owning FileSystem serializes access.
type InodeTable struct {
	next  uint64 // next identifier to hand out
	attrs map[uint64]*vylfs.Attr
}

func NewInodeTable() *InodeTable {
	return &InodeTable{
		next:  vylfs.RootID + 1,
		attrs: make(map[uint64]*vylfs.Attr),
	}
}

// Allocate returns a fresh identifier
func (t *InodeTable) Allocate() uint64 {
	id := t.next
	t.next++
	return id
}

// Insert stores attr under attr.Ino, replacing any previous record
func (t *InodeTable) Insert(attr *vylfs.Attr) {
	t.attrs[attr.Ino] = attr
}

// Get returns a copy of the record for id
func (t *InodeTable) Get(id uint64) (vylfs.Attr, error) {
	attr, err := t.GetMut(id)
	if err != nil {
		return vylfs.Attr{}, err
	}
	return *attr, nil
}

// GetMut returns the live record for id. Changes are visible to later calls.
func (t *InodeTable) GetMut(id uint64) (*vylfs.Attr, error) {
	attr, ok := t.attrs[id]
	if !ok {
		return nil, fmt.Errorf("inode %d: %w", id, vylfs.ErrNotFound)
	}
	return attr, nil
}

func (t *InodeTable) Remove(id uint64) {
	delete(t.attrs, id)
}

// Len returns the number of live records
func (t *InodeTable) Len() int {
	return len(t.attrs)
}
