package vylfs

import (
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/hanwen/go-fuse/v2/fuse"
)

const (
	// BlockSize is the preferred I/O size reported for every object
	BlockSize = 4096
	// SectorSize is the unit the block count is expressed in
	SectorSize = 512
	// MinBlocks is the smallest block count of a non-empty object
	MinBlocks = 8
	// PermMask keeps the permission, setuid/setgid and sticky bits
	PermMask = 0o7777
	// DefaultMaxFileSize bounds the size of a single regular file (1 GiB)
	DefaultMaxFileSize = 1 << 30
)

// Kind is the type of a filesystem object
type Kind uint8

const (
	KindFile Kind = iota
	KindDir
)

func (k Kind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Mode returns the S_IFMT bits for the kind
func (k Kind) Mode() uint32 {
	if k == KindDir {
		return syscall.S_IFDIR
	}
	return syscall.S_IFREG
}

// Attr is the attribute record of one identifier
type Attr struct {
	Ino     uint64
	Kind    Kind
	Size    uint64
	Blocks  uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time // status change
	Crtime  time.Time // creation
	Perm    uint32
	Uid     uint32
	Gid     uint32
	Nlink   uint32
	Rdev    uint32 // always zero
	Blksize uint32
	Flags   uint32
}

// BlocksFor returns the block count for size: 0 when empty, otherwise
// ceil(size/512) with a floor of 8.
func BlocksFor(size uint64) uint64 {
	if size == 0 {
		return 0
	}
	return max(MinBlocks, (size+SectorSize-1)/SectorSize)
}

// SetSize updates Size and keeps Blocks consistent with it
func (a *Attr) SetSize(size uint64) {
	a.Size = size
	a.Blocks = BlocksFor(size)
}

// IsDir reports whether the record describes a directory
func (a *Attr) IsDir() bool {
	return a.Kind == KindDir
}

// ToFuse fills the low-level wire attributes from the record
func (a *Attr) ToFuse(out *fuse.Attr) {
	out.Ino = a.Ino
	out.Size = a.Size
	out.Blocks = a.Blocks
	out.Atime, out.Atimensec = splitTime(a.Atime)
	out.Mtime, out.Mtimensec = splitTime(a.Mtime)
	out.Ctime, out.Ctimensec = splitTime(a.Ctime)
	out.Mode = a.Kind.Mode() | (a.Perm & PermMask)
	out.Nlink = a.Nlink
	out.Owner = fuse.Owner{Uid: a.Uid, Gid: a.Gid}
	out.Rdev = a.Rdev
	out.Blksize = a.Blksize
}

func splitTime(t time.Time) (uint64, uint32) {
	return uint64(t.Unix()), uint32(t.Nanosecond())
}

// TimeOrNow is a setattr timestamp: either an explicit time or "now"
type TimeOrNow struct {
	Time time.Time
	Now  bool
}

// Resolve returns the explicit time, or now when the marker is set
func (t TimeOrNow) Resolve(now time.Time) time.Time {
	if t.Now {
		return now
	}
	return t.Time
}

// SetAttrRequest carries the optional fields of a setattr call. Nil fields
// are left untouched.
type SetAttrRequest struct {
	Mode    *uint32
	Uid     *uint32
	Gid     *uint32
	Size    *uint64
	Atime   *TimeOrNow
	Mtime   *TimeOrNow
	Crtime  *time.Time
	Chgtime *time.Time
	Flags   *uint32
}

// DirEntry is one element of a directory listing. Offset is the cookie that
// resumes the listing right after this entry.
type DirEntry struct {
	Ino    uint64
	Kind   Kind
	Name   string
	Offset uint64
}

// ValidName reports whether name can be stored as a directory entry.
// Names must be non-empty UTF-8 without '/' or NUL bytes.
func ValidName(name string) bool {
	if name == "" || !utf8.ValidString(name) {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return false
		}
	}
	return true
}
