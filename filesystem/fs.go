// Package filesystem implements the in-memory filesystem engine: an inode
// table, a directory namespace and a content store kept consistent behind a
// single lock.
package filesystem

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/brettbedarf/vylfs"
	"github.com/brettbedarf/vylfs/internal/util"
)

var _ vylfs.Filesystem = (*FileSystem)(nil)

// FileSystem is the engine. All three stores sit behind mu because several
// operations touch two or three of them as one logical step.
type FileSystem struct {
	mu      sync.Mutex
	inodes  *InodeTable
	ns      *Namespace
	data    *ContentStore
	clock   func() time.Time
	maxSize uint64
}

// Option configures a FileSystem created by NewFS
type Option func(*FileSystem)

// WithMaxFileSize caps the size of every regular file. Zero keeps the default.
func WithMaxFileSize(n uint64) Option {
	return func(fs *FileSystem) {
		if n > 0 {
			fs.maxSize = n
		}
	}
}

// NewFS returns an engine holding only the root directory
func NewFS(opts ...Option) *FileSystem {
	fs := &FileSystem{
		inodes:  NewInodeTable(),
		ns:      NewNamespace(),
		clock:   time.Now,
		maxSize: vylfs.DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(fs)
	}
	fs.data = NewContentStore(fs.maxSize)
	fs.inodes.Insert(fs.newAttr(vylfs.RootID, vylfs.KindDir, 0o755))
	return fs
}

func (fs *FileSystem) Lookup(parent uint64, name string) (vylfs.Attr, error) {
	if !vylfs.ValidName(name) {
		return vylfs.Attr{}, invalidName("lookup", name)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	id, ok := fs.ns.Lookup(parent, name)
	if !ok {
		return vylfs.Attr{}, fmt.Errorf("lookup %q in %d: %w", name, parent, vylfs.ErrNotFound)
	}
	return fs.inodes.Get(id)
}

func (fs *FileSystem) GetAttr(id uint64) (vylfs.Attr, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.inodes.Get(id)
}

// ReadDir rebuilds the listing of id (".", "..", then every child) and
// returns it from index offset onward.
func (fs *FileSystem) ReadDir(id uint64, offset uint64) ([]vylfs.DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.requireDirLocked(id); err != nil {
		return nil, err
	}
	listing := fs.listingLocked(id)
	if offset >= uint64(len(listing)) {
		return []vylfs.DirEntry{}, nil
	}
	return listing[offset:], nil
}

func (fs *FileSystem) Create(parent uint64, name string, mode uint32) (vylfs.Attr, error) {
	return fs.addNode("create", parent, name, vylfs.KindFile, mode)
}

func (fs *FileSystem) Mkdir(parent uint64, name string, mode uint32) (vylfs.Attr, error) {
	return fs.addNode("mkdir", parent, name, vylfs.KindDir, mode)
}

func (fs *FileSystem) SetAttr(id uint64, req *vylfs.SetAttrRequest) (vylfs.Attr, error) {
	logger := util.GetLogger("FS.SetAttr")
	fs.mu.Lock()
	defer fs.mu.Unlock()

	attr, err := fs.inodes.GetMut(id)
	if err != nil {
		return vylfs.Attr{}, err
	}
	if req == nil {
		return *attr, nil
	}
	now := fs.clock()

	if req.Size != nil {
		if *req.Size > fs.maxSize {
			return vylfs.Attr{}, fmt.Errorf("setattr %d: size %d: %w", id, *req.Size, vylfs.ErrTooLarge)
		}
		if fs.data.Has(id) {
			if err := fs.data.Truncate(id, *req.Size); err != nil {
				return vylfs.Attr{}, err
			}
		}
		attr.SetSize(*req.Size)
	}
	if req.Mode != nil {
		attr.Perm = *req.Mode & vylfs.PermMask
	}
	if req.Uid != nil {
		attr.Uid = *req.Uid
	}
	if req.Gid != nil {
		attr.Gid = *req.Gid
	}
	if req.Atime != nil {
		attr.Atime = req.Atime.Resolve(now)
	}
	if req.Mtime != nil {
		attr.Mtime = req.Mtime.Resolve(now)
	}
	if req.Crtime != nil {
		attr.Crtime = *req.Crtime
	}
	if req.Chgtime != nil {
		attr.Ctime = *req.Chgtime
	}
	if req.Flags != nil {
		attr.Flags = *req.Flags
	}
	logger.Debug().Uint64("ino", id).Uint64("size", attr.Size).Msg("Updated attributes")
	return *attr, nil
}

// Unlink removes name from parent regardless of the link count. A directory
// can only be unlinked while empty so no child is left unreachable.
func (fs *FileSystem) Unlink(parent uint64, name string) error {
	logger := util.GetLogger("FS.Unlink")
	if !vylfs.ValidName(name) {
		return invalidName("unlink", name)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	id, ok := fs.ns.Lookup(parent, name)
	if !ok {
		return fmt.Errorf("unlink %q in %d: %w", name, parent, vylfs.ErrNotFound)
	}
	if attr, err := fs.inodes.Get(id); err == nil && attr.IsDir() && !fs.ns.IsEmpty(id) {
		return fmt.Errorf("unlink %q in %d: %w", name, parent, vylfs.ErrNotEmpty)
	}
	fs.removeLocked(parent, name, id)
	logger.Debug().Uint64("parent", parent).Str("name", name).Uint64("ino", id).Msg("Removed file")
	return nil
}

func (fs *FileSystem) Read(id uint64, offset uint64, size uint32) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.data.Read(id, offset, size)
}

// Write stores data and brings size, blocks and mtime in line with the
// new buffer length.
func (fs *FileSystem) Write(id uint64, offset uint64, data []byte) (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	attr, err := fs.inodes.GetMut(id)
	if err != nil {
		return 0, err
	}
	n, err := fs.data.Write(id, offset, data)
	if err != nil {
		return 0, err
	}
	size, err := fs.data.Len(id)
	if err != nil {
		return 0, err
	}
	attr.SetSize(size)
	attr.Mtime = fs.clock()
	return uint32(n), nil
}

func (fs *FileSystem) Rmdir(parent uint64, name string) error {
	logger := util.GetLogger("FS.Rmdir")
	if !vylfs.ValidName(name) {
		return invalidName("rmdir", name)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	id, ok := fs.ns.Lookup(parent, name)
	if !ok {
		return fmt.Errorf("rmdir %q in %d: %w", name, parent, vylfs.ErrNotFound)
	}
	attr, err := fs.inodes.Get(id)
	if err != nil {
		return err
	}
	if !attr.IsDir() {
		return fmt.Errorf("rmdir %q in %d: %w", name, parent, vylfs.ErrNotDir)
	}
	if !fs.ns.IsEmpty(id) {
		return fmt.Errorf("rmdir %q in %d: %w", name, parent, vylfs.ErrNotEmpty)
	}
	fs.removeLocked(parent, name, id)
	logger.Debug().Uint64("parent", parent).Str("name", name).Uint64("ino", id).Msg("Removed directory")
	return nil
}

func (fs *FileSystem) Stats() vylfs.Stats {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return vylfs.Stats{
		Inodes: uint64(fs.inodes.Len()),
		Bytes:  fs.data.TotalBytes(),
	}
}

// addNode allocates an identifier and inserts the record, the entry and (for
// regular files) an empty buffer in one step.
func (fs *FileSystem) addNode(op string, parent uint64, name string, kind vylfs.Kind, mode uint32) (vylfs.Attr, error) {
	logger := util.GetLogger("FS.AddNode")
	if !vylfs.ValidName(name) {
		return vylfs.Attr{}, invalidName(op, name)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.requireDirLocked(parent); err != nil {
		return vylfs.Attr{}, fmt.Errorf("%s %q: parent: %w", op, name, err)
	}
	if _, exists := fs.ns.Lookup(parent, name); exists {
		return vylfs.Attr{}, fmt.Errorf("%s %q in %d: %w", op, name, parent, vylfs.ErrExists)
	}

	attr := fs.newAttr(fs.inodes.Allocate(), kind, mode)
	if err := fs.ns.Insert(parent, name, attr.Ino); err != nil {
		return vylfs.Attr{}, err
	}
	fs.inodes.Insert(attr)
	if kind == vylfs.KindFile {
		fs.data.InsertEmpty(attr.Ino)
	}
	logger.Debug().
		Str("op", op).
		Uint64("parent", parent).
		Str("name", name).
		Uint64("ino", attr.Ino).
		Msg("Added node")
	return *attr, nil
}

// removeLocked drops the entry, the record and any content of id.
// Caller must hold fs.mu.
func (fs *FileSystem) removeLocked(parent uint64, name string, id uint64) {
	// entry presence was checked under the same lock
	_, _ = fs.ns.Remove(parent, name)
	fs.inodes.Remove(id)
	fs.data.Remove(id)
}

// requireDirLocked fails unless id exists and is a directory.
// Caller must hold fs.mu.
func (fs *FileSystem) requireDirLocked(id uint64) error {
	attr, err := fs.inodes.Get(id)
	if err != nil {
		return err
	}
	if !attr.IsDir() {
		return fmt.Errorf("inode %d: %w", id, vylfs.ErrNotDir)
	}
	return nil
}

// listingLocked builds the full listing of dir. Entry i carries cookie i+1.
// Caller must hold fs.mu.
func (fs *FileSystem) listingLocked(dir uint64) []vylfs.DirEntry {
	listing := make([]vylfs.DirEntry, 0, 2)
	listing = append(listing,
		vylfs.DirEntry{Ino: dir, Kind: vylfs.KindDir, Name: "."},
		vylfs.DirEntry{Ino: fs.ns.ParentOf(dir), Kind: vylfs.KindDir, Name: ".."},
	)
	for name, child := range fs.ns.ChildrenOf(dir) {
		attr, err := fs.inodes.Get(child)
		if err != nil {
			continue
		}
		listing = append(listing, vylfs.DirEntry{Ino: child, Kind: attr.Kind, Name: name})
	}
	for i := range listing {
		listing[i].Offset = uint64(i + 1)
	}
	return listing
}

// newAttr returns a fresh record owned by the effective uid/gid of this
// process. Directories start at 4096 bytes / 8 blocks, files empty.
func (fs *FileSystem) newAttr(ino uint64, kind vylfs.Kind, mode uint32) *vylfs.Attr {
	now := fs.clock()
	attr := &vylfs.Attr{
		Ino:     ino,
		Kind:    kind,
		Atime:   now,
		Mtime:   now,
		Ctime:   now,
		Crtime:  now,
		Perm:    mode & vylfs.PermMask,
		Uid:     uint32(os.Geteuid()),
		Gid:     uint32(os.Getegid()),
		Nlink:   1,
		Blksize: vylfs.BlockSize,
	}
	if kind == vylfs.KindDir {
		attr.Size = vylfs.BlockSize
		attr.Blocks = vylfs.MinBlocks
		attr.Nlink = 2
	}
	return attr
}

func invalidName(op, name string) error {
	return fmt.Errorf("%s %q: %w", op, name, vylfs.ErrInvalidName)
}
