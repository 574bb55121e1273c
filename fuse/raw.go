// Package fuse adapts the filesystem engine to the low-level FUSE wire
// protocol served by go-fuse.
package fuse

import (
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/brettbedarf/vylfs"
	"github.com/brettbedarf/vylfs/config"
	"github.com/brettbedarf/vylfs/internal/util"
	"github.com/brettbedarf/vylfs/metrics"
)

// nameMax is the longest name reported by statfs
const nameMax = 255

// FuseRaw implements the low-level FUSE wire protocol.
// It serves as protocol adapter between FUSE and the core filesystem: it
// decodes each request, runs it against the engine and encodes the reply
// or errno. Requests may arrive concurrently; the engine serializes them.
// See https://www.man7.org/linux//man-pages/man4/fuse.4.html
type FuseRaw struct {
	fuse.RawFileSystem
	fs           vylfs.Filesystem
	attrTimeout  time.Duration
	entryTimeout time.Duration
	metrics      metrics.Recorder
	refs         *kernelRefs
	server       *fuse.Server
}

// NewFuseRaw wires fs behind the FUSE protocol. A nil rec disables metrics.
func NewFuseRaw(fs vylfs.Filesystem, cfg *config.Config, rec metrics.Recorder) *FuseRaw {
	if rec == nil {
		rec = metrics.NewNoop()
	}
	return &FuseRaw{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		fs:            fs,
		attrTimeout:   cfg.AttrTimeout,
		entryTimeout:  cfg.EntryTimeout,
		metrics:       rec,
		refs:          newKernelRefs(),
	}
}

func (r *FuseRaw) Init(s *fuse.Server) {
	logger := util.GetLogger("Fuse.Init")
	logger.Info().Msg("Filesystem initialized")
	r.server = s
}

// OnUnmount is called by the server once the kernel has released the mount.
func (r *FuseRaw) OnUnmount() {
	logger := util.GetLogger("Fuse.OnUnmount")
	st := r.fs.Stats()
	logger.Info().Uint64("inodes", st.Inodes).Int("kernel_refs", r.refs.size()).Msg("Filesystem destroyed")
}

func (r *FuseRaw) String() string {
	return "vylfs"
}

// Lookup is called by the kernel when the VFS wants to know
// about a file inside a directory.
func (r *FuseRaw) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	start := time.Now()
	logger := util.GetLogger("Fuse.Lookup")
	logger.Debug().Uint64("parent", header.NodeId).Str("name", name).Msg("Lookup called")

	attr, err := r.fs.Lookup(header.NodeId, name)
	if err != nil {
		return r.done("lookup", start, r.fail(&logger, err))
	}
	r.fillEntry(&attr, out)
	return r.done("lookup", start, fuse.OK)
}

// Forget is called when the kernel discards entries from its
// dentry cache. Identifiers stay valid until unlink/rmdir; only the
// reference bookkeeping changes.
func (r *FuseRaw) Forget(nodeid, nlookup uint64) {
	logger := util.GetLogger("Fuse.Forget")
	left := r.refs.forget(nodeid, nlookup)
	logger.Trace().Uint64("ino", nodeid).Uint64("nlookup", nlookup).Int64("left", left).Msg("Forget called")
	r.metrics.SetKernelRefs(r.refs.size())
}

func (r *FuseRaw) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	start := time.Now()
	logger := util.GetLogger("Fuse.GetAttr")
	logger.Debug().Uint64("ino", input.NodeId).Msg("GetAttr called")

	attr, err := r.fs.GetAttr(input.NodeId)
	if err != nil {
		return r.done("getattr", start, r.fail(&logger, err))
	}
	r.fillAttr(&attr, out)
	return r.done("getattr", start, fuse.OK)
}

func (r *FuseRaw) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	start := time.Now()
	logger := util.GetLogger("Fuse.SetAttr")
	logger.Debug().Uint64("ino", input.NodeId).Uint32("valid", input.Valid).Msg("SetAttr called")

	attr, err := r.fs.SetAttr(input.NodeId, decodeSetAttr(input))
	if err != nil {
		return r.done("setattr", start, r.fail(&logger, err))
	}
	r.fillAttr(&attr, out)
	return r.done("setattr", start, fuse.OK)
}

// Mknod only supports regular files, which it creates like Create
func (r *FuseRaw) Mknod(cancel <-chan struct{}, input *fuse.MknodIn, name string, out *fuse.EntryOut) fuse.Status {
	start := time.Now()
	logger := util.GetLogger("Fuse.Mknod")
	logger.Debug().Uint64("parent", input.NodeId).Str("name", name).Uint32("mode", input.Mode).Msg("Mknod called")

	if ft := input.Mode & syscall.S_IFMT; ft != 0 && ft != syscall.S_IFREG {
		return r.done("mknod", start, fuse.ENOSYS)
	}
	attr, err := r.fs.Create(input.NodeId, name, input.Mode&^input.Umask)
	if err != nil {
		return r.done("mknod", start, r.fail(&logger, err))
	}
	r.fillEntry(&attr, out)
	return r.done("mknod", start, fuse.OK)
}

func (r *FuseRaw) Mkdir(cancel <-chan struct{}, input *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	start := time.Now()
	logger := util.GetLogger("Fuse.Mkdir")
	logger.Debug().Uint64("parent", input.NodeId).Str("name", name).Uint32("mode", input.Mode).Msg("Mkdir called")

	attr, err := r.fs.Mkdir(input.NodeId, name, input.Mode&^input.Umask)
	if err != nil {
		return r.done("mkdir", start, r.fail(&logger, err))
	}
	r.fillEntry(&attr, out)
	return r.done("mkdir", start, fuse.OK)
}

func (r *FuseRaw) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	start := time.Now()
	logger := util.GetLogger("Fuse.Unlink")
	logger.Debug().Uint64("parent", header.NodeId).Str("name", name).Msg("Unlink called")

	if err := r.fs.Unlink(header.NodeId, name); err != nil {
		return r.done("unlink", start, r.fail(&logger, err))
	}
	return r.done("unlink", start, fuse.OK)
}

func (r *FuseRaw) Rmdir(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	start := time.Now()
	logger := util.GetLogger("Fuse.Rmdir")
	logger.Debug().Uint64("parent", header.NodeId).Str("name", name).Msg("Rmdir called")

	if err := r.fs.Rmdir(header.NodeId, name); err != nil {
		return r.done("rmdir", start, r.fail(&logger, err))
	}
	return r.done("rmdir", start, fuse.OK)
}

// Access always grants access; ownership and mode are reported but not enforced.
func (r *FuseRaw) Access(cancel <-chan struct{}, input *fuse.AccessIn) fuse.Status {
	return fuse.OK
}

// Create makes an empty regular file. The identifier doubles as file handle.
func (r *FuseRaw) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	start := time.Now()
	logger := util.GetLogger("Fuse.Create")
	logger.Debug().Uint64("parent", input.NodeId).Str("name", name).Uint32("mode", input.Mode).Msg("Create called")

	attr, err := r.fs.Create(input.NodeId, name, input.Mode&^input.Umask)
	if err != nil {
		return r.done("create", start, r.fail(&logger, err))
	}
	r.fillEntry(&attr, &out.EntryOut)
	out.OpenOut.Fh = attr.Ino
	return r.done("create", start, fuse.OK)
}

// Open succeeds for any existing identifier; no handle state is kept.
func (r *FuseRaw) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	start := time.Now()
	logger := util.GetLogger("Fuse.Open")
	logger.Debug().Uint64("ino", input.NodeId).Uint32("flags", input.Flags).Msg("Open called")

	if _, err := r.fs.GetAttr(input.NodeId); err != nil {
		return r.done("open", start, r.fail(&logger, err))
	}
	out.Fh = input.NodeId
	return r.done("open", start, fuse.OK)
}

func (r *FuseRaw) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	start := time.Now()
	logger := util.GetLogger("Fuse.Read")
	logger.Debug().Uint64("ino", input.NodeId).Uint64("offset", input.Offset).Uint32("size", input.Size).Msg("Read called")

	data, err := r.fs.Read(input.NodeId, input.Offset, input.Size)
	if err != nil {
		return nil, r.done("read", start, r.fail(&logger, err))
	}
	r.metrics.RecordBytes("read", len(data))
	return fuse.ReadResultData(data), r.done("read", start, fuse.OK)
}

func (r *FuseRaw) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	start := time.Now()
	logger := util.GetLogger("Fuse.Write")
	logger.Debug().Uint64("ino", input.NodeId).Uint64("offset", input.Offset).Int("size", len(data)).Msg("Write called")

	n, err := r.fs.Write(input.NodeId, input.Offset, data)
	if err != nil {
		return 0, r.done("write", start, r.fail(&logger, err))
	}
	r.metrics.RecordBytes("write", int(n))
	return n, r.done("write", start, fuse.OK)
}

func (r *FuseRaw) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {}

func (r *FuseRaw) Flush(cancel <-chan struct{}, input *fuse.FlushIn) fuse.Status {
	return fuse.OK
}

func (r *FuseRaw) Fsync(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	return fuse.OK
}

// OpenDir succeeds for directories only
func (r *FuseRaw) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	start := time.Now()
	logger := util.GetLogger("Fuse.OpenDir")
	logger.Debug().Uint64("ino", input.NodeId).Msg("OpenDir called")

	attr, err := r.fs.GetAttr(input.NodeId)
	if err != nil {
		return r.done("opendir", start, r.fail(&logger, err))
	}
	if !attr.IsDir() {
		return r.done("opendir", start, fuse.Status(syscall.ENOTDIR))
	}
	out.Fh = input.NodeId
	return r.done("opendir", start, fuse.OK)
}

// ReadDir emits the listing from input.Offset onward until it is exhausted
// or the reply buffer is full. Each entry's Off is the cookie to resume after it.
func (r *FuseRaw) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	start := time.Now()
	logger := util.GetLogger("Fuse.ReadDir")
	logger.Debug().Uint64("ino", input.NodeId).Uint64("offset", input.Offset).Msg("ReadDir called")

	entries, err := r.fs.ReadDir(input.NodeId, input.Offset)
	if err != nil {
		return r.done("readdir", start, r.fail(&logger, err))
	}
	added := 0
	for _, e := range entries {
		if !out.AddDirEntry(fuse.DirEntry{Mode: e.Kind.Mode(), Name: e.Name, Ino: e.Ino, Off: e.Offset}) {
			// The buffer is full; the kernel calls again with the last cookie
			break
		}
		added++
	}
	logger.Trace().Int("added", added).Int("available", len(entries)).Msg("ReadDir reply")
	return r.done("readdir", start, fuse.OK)
}

func (r *FuseRaw) ReleaseDir(input *fuse.ReleaseIn) {}

func (r *FuseRaw) FsyncDir(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	return fuse.OK
}

// StatFs reports live usage; the filesystem has no fixed capacity.
func (r *FuseRaw) StatFs(cancel <-chan struct{}, input *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	stats := r.fs.Stats()
	out.Bsize = vylfs.BlockSize
	out.Frsize = vylfs.BlockSize
	out.NameLen = nameMax
	out.Blocks = (stats.Bytes + vylfs.BlockSize - 1) / vylfs.BlockSize
	out.Files = stats.Inodes
	return fuse.OK
}

// fillEntry encodes attr as an entry reply and counts the kernel reference
func (r *FuseRaw) fillEntry(attr *vylfs.Attr, out *fuse.EntryOut) {
	out.NodeId = attr.Ino
	out.Generation = 0
	attr.ToFuse(&out.Attr)
	out.SetEntryTimeout(r.entryTimeout)
	out.SetAttrTimeout(r.attrTimeout)

	r.refs.inc(attr.Ino)
	r.metrics.SetKernelRefs(r.refs.size())
}

func (r *FuseRaw) fillAttr(attr *vylfs.Attr, out *fuse.AttrOut) {
	attr.ToFuse(&out.Attr)
	out.SetTimeout(r.attrTimeout)
}

// fail maps err to a status and logs the failure
func (r *FuseRaw) fail(logger *util.Logger, err error) fuse.Status {
	st := toStatus(err)
	logger.Debug().Err(err).Str("status", statusName(st)).Msg("Request failed")
	return st
}

// done records the request in metrics and returns st unchanged
func (r *FuseRaw) done(op string, start time.Time, st fuse.Status) fuse.Status {
	r.metrics.RecordRequest(op, time.Since(start), statusName(st))
	return st
}

// decodeSetAttr turns the kernel's valid-bitmask into optional fields
func decodeSetAttr(in *fuse.SetAttrIn) *vylfs.SetAttrRequest {
	req := &vylfs.SetAttrRequest{}
	if in.Valid&fuse.FATTR_MODE != 0 {
		req.Mode = util.Pointer(in.Mode)
	}
	if in.Valid&fuse.FATTR_UID != 0 {
		req.Uid = util.Pointer(in.Owner.Uid)
	}
	if in.Valid&fuse.FATTR_GID != 0 {
		req.Gid = util.Pointer(in.Owner.Gid)
	}
	if in.Valid&fuse.FATTR_SIZE != 0 {
		req.Size = util.Pointer(in.Size)
	}
	if in.Valid&fuse.FATTR_ATIME_NOW != 0 {
		req.Atime = &vylfs.TimeOrNow{Now: true}
	} else if in.Valid&fuse.FATTR_ATIME != 0 {
		req.Atime = &vylfs.TimeOrNow{Time: time.Unix(int64(in.Atime), int64(in.Atimensec))}
	}
	if in.Valid&fuse.FATTR_MTIME_NOW != 0 {
		req.Mtime = &vylfs.TimeOrNow{Now: true}
	} else if in.Valid&fuse.FATTR_MTIME != 0 {
		req.Mtime = &vylfs.TimeOrNow{Time: time.Unix(int64(in.Mtime), int64(in.Mtimensec))}
	}
	if in.Valid&fuse.FATTR_CTIME != 0 {
		req.Chgtime = util.Pointer(time.Unix(int64(in.Ctime), int64(in.Ctimensec)))
	}
	return req
}
