package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/brettbedarf/vylfs/config"
	"github.com/brettbedarf/vylfs/internal/util"
	"github.com/brettbedarf/vylfs/server"
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage:\n")
	fmt.Fprintf(out, "  vylfs [flags] <mountpoint>   mount an empty in-memory filesystem\n")
	fmt.Fprintf(out, "  vylfs -unmount <mountpoint>  force unmount (requires root)\n")
	fmt.Fprintf(out, "  vylfs log                    print the log from the last run\n\n")
	flag.PrintDefaults()
}

func main() {
	var (
		configPath  string
		verbose     int
		umount      bool
		unmountPath string
		printConfig bool
	)
	flag.StringVar(&configPath, "config", "", "Path to config file (yaml, json or toml)")
	flag.StringVar(&configPath, "c", "", "--config (shorthand)")
	flag.BoolVar(&umount, "umount", false,
		"Unmount the fs first if needed before mounting again. Useful for debuggers that don't exit properly.")
	flag.BoolVar(&umount, "u", false, "--umount (shorthand)")
	flag.StringVar(&unmountPath, "unmount", "", "Force unmount the given mount point and exit (requires root)")
	flag.IntVar(&verbose, "verbose", 0, "Log verbosity level between 1 (error) and 5 (trace). Default is 3 (info).")
	flag.IntVar(&verbose, "v", 0, "--verbose (shorthand)")
	flag.BoolVar(&printConfig, "print-config", false, "Print the effective configuration and exit")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 && unmountPath == "" && !printConfig {
		flag.Usage()
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if verbose != 0 {
		cfg.Merge(&config.ConfigOverride{LogLvl: &verbose})
	}

	if printConfig {
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out) // nolint:errcheck
		return
	}

	if flag.Arg(0) == "log" {
		if err := util.ViewLog(cfg.LogFile, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to view log: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Initialize logger
	var logWriters []io.Writer
	if cfg.LogFile != "" {
		f, err := util.OpenLogFile(cfg.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v\n", cfg.LogFile, err)
			os.Exit(1)
		}
		defer f.Close()
		logWriters = append(logWriters, f)
	}
	util.InitializeLogger(cfg.LogLvl, logWriters...)
	logger := util.GetLogger("main")

	if unmountPath != "" {
		logger.Info().Str("mnt", unmountPath).Msg("Unmounting directory")
		if err := server.ForceUnmount(unmountPath); err != nil {
			logger.Fatal().Err(err).Msg("Failed to unmount")
		}
		logger.Info().Str("mnt", unmountPath).Msg("Unmounted")
		return
	}

	mnt := flag.Arg(0)
	logger.Info().Int("logLevel", cfg.LogLvl).Str("config", configPath).Str("mnt", mnt).Msg("vylfs initializing")
	// Try unmount if requested
	if umount { // send cli command
		cmd := exec.Command("fusermount", "-u", mnt)
		// we ignore error here if not already mounted
		cmd.Run() // nolint:errcheck
	}

	fs := server.New(cfg)
	if err := fs.Serve(mnt); err != nil {
		logger.Fatal().Err(err).Str("mnt", mnt).Msg("Failed to mount filesystem")
	}
	logger.Info().Str("mountpoint", mnt).Str("session", fs.Session()).Msg("Filesystem mounted successfully")

	// Setup signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-signalChan
		logger.Info().Str("signal", sig.String()).Msg("Received signal, unmounting filesystem")
		if err := fs.Unmount(); err != nil {
			logger.Error().Err(err).Msg("Failed to unmount filesystem")
		}
	}()

	// Returns on signal-driven unmount or when the mount goes away underneath us
	fs.Wait()
	logger.Info().Msg("Filesystem unmounted, exiting")
}
