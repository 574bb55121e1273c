package server

import (
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/vylfs"
	"github.com/brettbedarf/vylfs/config"
	"github.com/brettbedarf/vylfs/metrics"
)

func TestNew(t *testing.T) {
	t.Parallel()

	a := New(config.NewDefaultConfig())
	b := New(config.NewDefaultConfig())

	assert.NotEmpty(t, a.Session())
	assert.NotEqual(t, a.Session(), b.Session(), "every mount gets its own session id")

	root, err := a.GetAttr(vylfs.RootID)
	require.NoError(t, err)
	assert.True(t, root.IsDir())
	assert.Equal(t, vylfs.Stats{Inodes: 1}, a.Stats(), "a new mount starts empty")
}

func TestNewMountOptions(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefaultConfig()
	cfg.Debug = true
	opts := NewMountOptions(cfg)

	assert.Equal(t, config.DefaultFsName, opts.FsName)
	assert.Equal(t, config.DefaultName, opts.Name)
	assert.ElementsMatch(t, []string{"auto_unmount", "allow_root"}, opts.Options)
	assert.Equal(t, config.DefaultMaxWrite, opts.MaxWrite)
	assert.True(t, opts.Debug)
	assert.True(t, opts.DisableReadDirPlus)
	assert.NotNil(t, opts.Logger)

	cfg.AllowRoot = false
	cfg.AutoUnmount = false
	assert.Empty(t, NewMountOptions(cfg).Options)
}

func TestVylFs_ServeInvalidMountPoint(t *testing.T) {
	t.Parallel()

	fs := New(config.NewDefaultConfig())
	err := fs.Serve(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	err = <-fs.ServeAsync(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestVylFs_UnmountBeforeServe(t *testing.T) {
	t.Parallel()

	fs := New(config.NewDefaultConfig())
	assert.NoError(t, fs.Unmount())
	fs.Wait()
}

func TestVylFs_StartMetricsDisabled(t *testing.T) {
	t.Parallel()

	fs := New(config.NewDefaultConfig())
	rec := fs.startMetrics()
	assert.Equal(t, metrics.NewNoop(), rec)
	assert.Nil(t, fs.metricsSrv)
	fs.stopMetrics()
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestVylFs_MetricsEndpointLifecycle(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefaultConfig()
	cfg.MetricsAddr = freeAddr(t)
	fs := New(cfg)

	rec := fs.startMetrics()
	assert.NotEqual(t, metrics.NewNoop(), rec)
	require.NotNil(t, fs.metricsSrv)

	url := "http://" + cfg.MetricsAddr + "/metrics"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	// Wait and Unmount both stop the endpoint; the second call is a no-op
	fs.stopMetrics()
	fs.stopMetrics()

	_, err := http.Get(url)
	assert.Error(t, err, "endpoint is closed after stop")
}

func TestVylFs_ServeFailureStopsMetrics(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefaultConfig()
	cfg.MetricsAddr = freeAddr(t)
	fs := New(cfg)

	// a regular file is not a valid mount point
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	require.Error(t, fs.Serve(file))
	assert.Nil(t, fs.metricsSrv, "metrics never start for an invalid mount point")
	assert.Nil(t, fs.server)

	fs.Wait()
	assert.NoError(t, fs.Unmount())
}
