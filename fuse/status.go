package fuse

import (
	"errors"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/brettbedarf/vylfs"
)

// toStatus maps an engine error onto the errno returned to the kernel.
// Unknown errors become EIO.
func toStatus(err error) fuse.Status {
	switch {
	case err == nil:
		return fuse.OK
	case errors.Is(err, vylfs.ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, vylfs.ErrExists):
		return fuse.Status(syscall.EEXIST)
	case errors.Is(err, vylfs.ErrInvalidName):
		return fuse.EINVAL
	case errors.Is(err, vylfs.ErrNotDir):
		return fuse.Status(syscall.ENOTDIR)
	case errors.Is(err, vylfs.ErrNotEmpty):
		return fuse.Status(syscall.ENOTEMPTY)
	case errors.Is(err, vylfs.ErrTooLarge):
		return fuse.Status(syscall.EFBIG)
	default:
		return fuse.EIO
	}
}

// statusName returns the label used for metrics, e.g. "OK" or "ENOENT"
func statusName(st fuse.Status) string {
	switch st {
	case fuse.OK:
		return "OK"
	case fuse.ENOENT:
		return "ENOENT"
	case fuse.Status(syscall.EEXIST):
		return "EEXIST"
	case fuse.EINVAL:
		return "EINVAL"
	case fuse.Status(syscall.ENOTDIR):
		return "ENOTDIR"
	case fuse.Status(syscall.ENOTEMPTY):
		return "ENOTEMPTY"
	case fuse.Status(syscall.EFBIG):
		return "EFBIG"
	case fuse.ENOSYS:
		return "ENOSYS"
	case fuse.EIO:
		return "EIO"
	default:
		return st.String()
	}
}
