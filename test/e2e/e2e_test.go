package e2e

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	vylfsBin string
	projRoot string
	baseDir  string
	skipMsg  string
)

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	if _, err := os.Stat("/dev/fuse"); err != nil {
		skipMsg = "/dev/fuse not available"
		return m.Run()
	}
	if _, err := exec.LookPath("fusermount"); err != nil {
		if _, err := exec.LookPath("fusermount3"); err != nil {
			skipMsg = "fusermount not installed"
			return m.Run()
		}
	}

	var err error
	baseDir, err = os.MkdirTemp("", "vylfs-e2e")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(baseDir) // nolint:errcheck

	// Determine project root
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		panic("cannot determine current file path")
	}
	projRoot = filepath.Join(filepath.Dir(thisFile), "..", "..")

	// Build the binary once for all tests
	vylfsBin = filepath.Join(baseDir, "vylfs")
	cmd := exec.Command("go", "build", "-o", vylfsBin, "./cmd")
	cmd.Dir = projRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		panic(string(out))
	}

	return m.Run()
}

func TestE2ECreateWriteRead(t *testing.T) {
	vfs := StartVylFs(t)
	defer vfs.Stop()

	path := filepath.Join(vfs.MountDir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	st := info.Sys().(*syscall.Stat_t)
	assert.Equal(t, int64(8), st.Blocks)
	assert.Equal(t, uint32(os.Getuid()), st.Uid)
}

func TestE2ESparseWrite(t *testing.T) {
	vfs := StartVylFs(t)
	defer vfs.Stop()

	f, err := os.Create(filepath.Join(vfs.MountDir, "sparse"))
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("X"), 10)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(filepath.Join(vfs.MountDir, "sparse"))
	require.NoError(t, err)
	assert.Equal(t, append(make([]byte, 10), 'X'), data)
}

func TestE2EDirectories(t *testing.T) {
	vfs := StartVylFs(t)
	defer vfs.Stop()

	dir := filepath.Join(vfs.MountDir, "d")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "y"), 0o755))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"x", "y"}, names)
	assert.True(t, entries[1].IsDir())

	err = os.Remove(filepath.Join(vfs.MountDir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	err = syscall.Rmdir(dir)
	assert.Equal(t, syscall.ENOTEMPTY, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "x")))
	require.NoError(t, os.Remove(filepath.Join(dir, "y")))
	require.NoError(t, syscall.Rmdir(dir))

	_, err = os.Stat(dir)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestE2EManyEntries(t *testing.T) {
	vfs := StartVylFs(t)
	defer vfs.Stop()

	// more entries than fit in one kernel readdir buffer
	const count = 500
	for i := range count {
		name := fmt.Sprintf("file-with-a-fairly-long-name-%04d", i)
		require.NoError(t, os.WriteFile(filepath.Join(vfs.MountDir, name), nil, 0o644))
	}

	entries, err := os.ReadDir(vfs.MountDir)
	require.NoError(t, err)
	assert.Len(t, entries, count)
}

func TestE2ETruncate(t *testing.T) {
	vfs := StartVylFs(t)
	defer vfs.Stop()

	path := filepath.Join(vfs.MountDir, "t")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))
	require.NoError(t, os.Truncate(path, 4))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(data))

	require.NoError(t, os.Chmod(path, 0o600))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestE2EStateIsNotPersisted(t *testing.T) {
	vfs := StartVylFs(t)
	require.NoError(t, os.WriteFile(filepath.Join(vfs.MountDir, "gone"), []byte("x"), 0o644))
	mountDir := vfs.MountDir
	vfs.stopProcess()

	again := startAt(t, mountDir)
	defer again.Stop()

	entries, err := os.ReadDir(again.MountDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// VylFsInstance is one running vylfs process and its mount directory
type VylFsInstance struct {
	cmd      *exec.Cmd
	MountDir string
	stdout   *bytes.Buffer
	stderr   *bytes.Buffer
}

// StartVylFs mounts a fresh filesystem in a test-specific directory
func StartVylFs(t *testing.T) *VylFsInstance {
	t.Helper()
	if skipMsg != "" {
		t.Skip(skipMsg)
	}

	testID := strings.ReplaceAll(t.Name(), "/", "_")
	mountDir := filepath.Join(baseDir, fmt.Sprintf("mount-%s", testID))
	if err := os.MkdirAll(mountDir, 0o755); err != nil {
		t.Fatalf("Failed to create mount dir: %v", err)
	}
	return startAt(t, mountDir)
}

func startAt(t *testing.T, mountDir string) *VylFsInstance {
	t.Helper()

	cmd := exec.Command(vylfsBin, "-v", "4", mountDir)
	cmd.Env = append(os.Environ(),
		"VYLFS_ALLOW_ROOT=false",
		"VYLFS_AUTO_UNMOUNT=false",
		"VYLFS_ATTR_TIMEOUT=0s",
		"VYLFS_ENTRY_TIMEOUT=0s",
		"VYLFS_LOG_FILE="+filepath.Join(baseDir, "vylfs.out"),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start vylfs: %v", err)
	}

	instance := &VylFsInstance{
		cmd:      cmd,
		MountDir: mountDir,
		stdout:   &stdout,
		stderr:   &stderr,
	}

	if err := instance.WaitForMount(15 * time.Second); err != nil {
		instance.Stop()
		out, errOut := instance.GetLogs()
		t.Fatalf("vylfs mount failed: %v\nstdout:\n%s\nstderr:\n%s", err, out, errOut)
	}
	return instance
}

// Stop unmounts via SIGINT and removes the mount directory
func (v *VylFsInstance) Stop() {
	v.stopProcess()
	_ = os.RemoveAll(v.MountDir) // Best effort cleanup
}

func (v *VylFsInstance) stopProcess() {
	if v.cmd == nil || v.cmd.Process == nil {
		return
	}
	_ = v.cmd.Process.Signal(os.Interrupt) // Process may have already exited

	done := make(chan error, 1)
	go func() {
		done <- v.cmd.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = v.cmd.Process.Kill() // Process may have already exited
		<-done
		_ = exec.Command("fusermount", "-u", v.MountDir).Run()
	}
	v.cmd = nil
}

// WaitForMount polls the mount table until MountDir shows up
func (v *VylFsInstance) WaitForMount(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		mounted, err := isMounted(v.MountDir)
		if err != nil {
			return err
		}
		if mounted {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("timeout waiting for vylfs mount to be ready")
}

// GetLogs returns the stdout and stderr from the vylfs process
func (v *VylFsInstance) GetLogs() (stdout, stderr string) {
	return v.stdout.String(), v.stderr.String()
}

func isMounted(dir string) (bool, error) {
	data, err := os.ReadFile("/proc/self/mounts")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == dir {
			return true, nil
		}
	}
	return false, nil
}
