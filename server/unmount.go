package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

var (
	// ErrNotRoot is returned by ForceUnmount when not run as the superuser
	ErrNotRoot = errors.New("must be root to unmount with umount2")
	// ErrNotDirectory is returned by ValidateDir for paths that are not directories
	ErrNotDirectory = errors.New("not a directory")
)

// ValidateDir ensures path exists and is a directory.
func ValidateDir(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("'%s' does not exist: %w", path, err)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("'%s' is %w", path, ErrNotDirectory)
	}
	return nil
}

// ForceUnmount detaches whatever is mounted at mountPoint with MNT_FORCE.
// Requires an effective uid of 0.
func ForceUnmount(mountPoint string) error {
	if err := ValidateDir(mountPoint); err != nil {
		return err
	}
	if unix.Geteuid() != 0 {
		return ErrNotRoot
	}
	if err := unix.Unmount(mountPoint, unix.MNT_FORCE); err != nil {
		return fmt.Errorf("umount2 %s: %w", mountPoint, err)
	}
	return nil
}
