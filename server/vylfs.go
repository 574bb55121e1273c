// Package server mounts the in-memory filesystem through go-fuse and manages
// the mount's lifecycle.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brettbedarf/vylfs/config"
	"github.com/brettbedarf/vylfs/filesystem"
	vfuse "github.com/brettbedarf/vylfs/fuse"
	"github.com/brettbedarf/vylfs/internal/util"
	"github.com/brettbedarf/vylfs/metrics"
)

// metricsShutdownTimeout bounds how long Unmount waits for the metrics endpoint
const metricsShutdownTimeout = 5 * time.Second

// VylFs owns one engine and the mount serving it. The engine state lives only
// as long as the VylFs value; nothing is persisted on unmount.
type VylFs struct {
	*filesystem.FileSystem
	cfg        *config.Config
	server     *fuse.Server
	metricsSrv *http.Server
	stopOnce   sync.Once
	session    string
}

// New creates a VylFs with an empty filesystem (root directory only).
func New(cfg *config.Config) *VylFs {
	return &VylFs{
		FileSystem: filesystem.NewFS(filesystem.WithMaxFileSize(cfg.MaxFileSize)),
		cfg:        cfg,
		session:    uuid.NewString(),
	}
}

// Session returns the id tagging this mount's log lines
func (fs *VylFs) Session() string {
	return fs.session
}

// Serve mounts and serves the filesystem at the given mountPoint. It returns
// once the kernel has acknowledged the mount.
func (fs *VylFs) Serve(mountPoint string) error {
	logger := fs.logger()
	if err := ValidateDir(mountPoint); err != nil {
		return err
	}

	rec := fs.startMetrics()
	raw := vfuse.NewFuseRaw(fs.FileSystem, fs.cfg, rec)
	srv, err := fuse.NewServer(raw, mountPoint, NewMountOptions(fs.cfg))
	if err != nil {
		fs.stopMetrics()
		return err
	}
	fs.server = srv

	go srv.Serve()
	if err := srv.WaitMount(); err != nil {
		fs.stopMetrics()
		return err
	}
	logger.Info().Str("mountpoint", mountPoint).Msg("Filesystem mounted")
	return nil
}

// ServeAsync runs Serve in the background and reports its result on the channel
func (fs *VylFs) ServeAsync(mountPoint string) <-chan error {
	done := make(chan error, 1)

	go func() {
		done <- fs.Serve(mountPoint)
		close(done)
	}()

	return done
}

// Wait blocks until the filesystem is unmounted, by Unmount or externally.
func (fs *VylFs) Wait() {
	if fs.server == nil {
		return
	}
	fs.server.Wait()
	fs.stopMetrics()
	logger := fs.logger()
	logger.Info().Msg("Mount released")
}

// Unmount cleanly unmounts the filesystem. All in-memory state is dropped
// with the VylFs value.
func (fs *VylFs) Unmount() error {
	if fs.server == nil {
		return nil
	}
	if err := fs.server.Unmount(); err != nil {
		return err
	}
	fs.stopMetrics()
	return nil
}

// NewMountOptions translates the config into go-fuse mount options.
func NewMountOptions(cfg *config.Config) *fuse.MountOptions {
	var opts []string
	if cfg.AutoUnmount {
		opts = append(opts, "auto_unmount")
	}
	if cfg.AllowRoot {
		opts = append(opts, "allow_root")
	}
	return &fuse.MountOptions{
		FsName:             cfg.FsName,
		Name:               cfg.Name,
		Options:            opts,
		MaxWrite:           cfg.MaxWrite,
		Debug:              cfg.Debug,
		Logger:             util.NewLogLogger("FuseServer", util.DebugLevel),
		DisableReadDirPlus: true,
	}
}

// startMetrics serves /metrics when configured and returns the recorder
// the dispatcher reports to.
func (fs *VylFs) startMetrics() metrics.Recorder {
	if fs.cfg.MetricsAddr == "" {
		return metrics.NewNoop()
	}
	logger := fs.logger()
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	fs.metricsSrv = &http.Server{
		Addr:              fs.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := fs.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", fs.cfg.MetricsAddr).Msg("Metrics endpoint failed")
		}
	}()
	logger.Info().Str("addr", fs.cfg.MetricsAddr).Msg("Serving metrics")
	return rec
}

// stopMetrics shuts the metrics endpoint down once; Unmount and Wait both call it
func (fs *VylFs) stopMetrics() {
	fs.stopOnce.Do(func() {
		if fs.metricsSrv == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := fs.metricsSrv.Shutdown(ctx); err != nil {
			logger := fs.logger()
			logger.Warn().Err(err).Msg("Failed to stop metrics endpoint")
		}
	})
}

func (fs *VylFs) logger() util.Logger {
	return util.GetLogger("Server").With().Str("session", fs.session).Logger()
}
