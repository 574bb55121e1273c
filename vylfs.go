// Package vylfs contains the core domain types shared by the in-memory
// filesystem engine and the FUSE request dispatcher.
package vylfs

import "github.com/hanwen/go-fuse/v2/fuse"

// RootID is the protocol-fixed identifier of the root directory.
const RootID uint64 = fuse.FUSE_ROOT_ID

// Operator is the closed set of operations the kernel bridge dispatches into
// the engine. Every method is a single atomic transition over engine state.
type Operator interface {
	// Lookup resolves name inside parent and returns the child's attributes
	Lookup(parent uint64, name string) (Attr, error)

	GetAttr(id uint64) (Attr, error)

	// ReadDir returns the listing of directory id starting at listing index
	// offset. The listing is rebuilt on every call.
	ReadDir(id uint64, offset uint64) ([]DirEntry, error)

	// Create adds an empty regular file named name to parent
	Create(parent uint64, name string, mode uint32) (Attr, error)

	// SetAttr applies only the fields present in req
	SetAttr(id uint64, req *SetAttrRequest) (Attr, error)

	// Unlink removes the entry, its attributes and its content
	Unlink(parent uint64, name string) error

	// Read returns up to size bytes starting at offset. Reading past the end
	// yields an empty slice, never an error.
	Read(id uint64, offset uint64, size uint32) ([]byte, error)

	// Write stores data at offset, zero-filling any gap, and returns len(data)
	Write(id uint64, offset uint64, data []byte) (uint32, error)

	Mkdir(parent uint64, name string, mode uint32) (Attr, error)

	// Rmdir removes an empty directory
	Rmdir(parent uint64, name string) error
}

// Stats is a point-in-time summary of engine usage
type Stats struct {
	Inodes uint64 // live identifiers, root included
	Bytes  uint64 // total bytes held by content buffers
}

// Filesystem is an [Operator] that can also report usage for statfs replies
type Filesystem interface {
	Operator
	Stats() Stats
}
