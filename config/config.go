// Package config holds the runtime configuration of a vylfs mount.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/brettbedarf/vylfs"
	"github.com/brettbedarf/vylfs/internal/util"
)

// Bytes per KB
const KB = 1024

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultFsName      = "vylfs"
	DefaultName        = "vylfs"
	DefaultLogLvl      = util.InfoLevel
	DefaultLogFile     = "/tmp/vylfs.out"
	DefaultAllowRoot   = true
	DefaultAutoUnmount = true

	// DefaultAttrTimeout is how long the kernel may cache attributes
	DefaultAttrTimeout = time.Second

	// DefaultEntryTimeout is how long the kernel may cache name lookups
	DefaultEntryTimeout = time.Second

	// DefaultMaxWrite is the maximum write size per FUSE request
	DefaultMaxWrite = 128 * KB

	// DefaultMaxFileSize caps a single file held in memory
	DefaultMaxFileSize uint64 = vylfs.DefaultMaxFileSize
)

// Log verbosity as given on the command line or in config files;
// 1 (error) up to 5 (trace).
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// EnvPrefix prefixes every environment variable override, e.g. VYLFS_MAX_WRITE
const EnvPrefix = "VYLFS"

// Config contains runtime configuration values for the filesystem.
type Config struct {
	MountOptions `yaml:",inline"`

	LogLvl       util.LogLevel `yaml:"log_level" validate:"gte=0,lte=4"`
	LogFile      string        `yaml:"log_file"`                                  // JSON log copy; empty disables it
	AttrTimeout  time.Duration `yaml:"attr_timeout" validate:"gte=0"`             // Attribute cache lifetime handed to the kernel (Default 1s)
	EntryTimeout time.Duration `yaml:"entry_timeout" validate:"gte=0"`            // Entry cache lifetime handed to the kernel (Default 1s)
	MaxWrite     int           `yaml:"max_write" validate:"gte=4096,lte=1048576"` // Maximum write size per FUSE request (Default 128KB)
	MaxFileSize  uint64        `yaml:"max_file_size" validate:"gt=0"`             // Largest file size accepted; bigger writes fail with EFBIG (Default 1GiB)
	MetricsAddr  string        `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	FsName       *string        `mapstructure:"fs_name" yaml:"fs_name,omitempty"`
	Name         *string        `mapstructure:"name" yaml:"name,omitempty"`
	Debug        *bool          `mapstructure:"debug" yaml:"debug,omitempty"`
	AllowRoot    *bool          `mapstructure:"allow_root" yaml:"allow_root,omitempty"`
	AutoUnmount  *bool          `mapstructure:"auto_unmount" yaml:"auto_unmount,omitempty"`
	LogLevel     *int           `mapstructure:"log_level" yaml:"log_level,omitempty"` // internal level 0 (trace)..4 (error), as rendered by YAML
	LogLvl       *int           `mapstructure:"verbose" yaml:"verbose,omitempty"`     // verbosity 1..5, clamped; wins over log_level
	LogFile      *string        `mapstructure:"log_file" yaml:"log_file,omitempty"`
	AttrTimeout  *time.Duration `mapstructure:"attr_timeout" yaml:"attr_timeout,omitempty"`
	EntryTimeout *time.Duration `mapstructure:"entry_timeout" yaml:"entry_timeout,omitempty"`
	MaxWrite     *int           `mapstructure:"max_write" yaml:"max_write,omitempty"`
	MaxFileSize  *uint64        `mapstructure:"max_file_size" yaml:"max_file_size,omitempty"`
	MetricsAddr  *string        `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`
}

// overrideKeys lists every ConfigOverride key so viper can bind its env var
var overrideKeys = []string{
	"fs_name", "name", "debug", "allow_root", "auto_unmount", "log_level", "verbose",
	"log_file", "attr_timeout", "entry_timeout", "max_write", "max_file_size", "metrics_addr",
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		MountOptions: MountOptions{
			FsName:      DefaultFsName,
			Name:        DefaultName,
			AllowRoot:   DefaultAllowRoot,
			AutoUnmount: DefaultAutoUnmount,
		},
		LogLvl:       DefaultLogLvl,
		LogFile:      DefaultLogFile,
		AttrTimeout:  DefaultAttrTimeout,
		EntryTimeout: DefaultEntryTimeout,
		MaxWrite:     DefaultMaxWrite,
		MaxFileSize:  DefaultMaxFileSize,
	}
}

// NewConfig returns the defaults with override applied; override may be nil
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.FsName != nil {
		c.FsName = *override.FsName
	}
	if override.Name != nil {
		c.Name = *override.Name
	}
	if override.Debug != nil {
		c.Debug = *override.Debug
	}
	if override.AllowRoot != nil {
		c.AllowRoot = *override.AllowRoot
	}
	if override.AutoUnmount != nil {
		c.AutoUnmount = *override.AutoUnmount
	}
	if override.LogLevel != nil {
		c.LogLvl = *override.LogLevel
	}
	if override.LogLvl != nil {
		c.LogLvl = VerbosityToLevel(*override.LogLvl)
	}
	if override.LogFile != nil {
		c.LogFile = *override.LogFile
	}
	if override.AttrTimeout != nil {
		c.AttrTimeout = *override.AttrTimeout
	}
	if override.EntryTimeout != nil {
		c.EntryTimeout = *override.EntryTimeout
	}
	if override.MaxWrite != nil {
		c.MaxWrite = *override.MaxWrite
	}
	if override.MaxFileSize != nil {
		c.MaxFileSize = *override.MaxFileSize
	}
	if override.MetricsAddr != nil {
		c.MetricsAddr = *override.MetricsAddr
	}
}

// VerbosityToLevel maps verbosity 1 (error) .. 5 (trace) onto a log level.
// Out of range values are clamped.
func VerbosityToLevel(verbose int) util.LogLevel {
	verbose = min(max(verbose, ErrorVerbose), TraceVerbose)
	lvls := [5]util.LogLevel{util.ErrorLevel, util.WarnLevel, util.InfoLevel, util.DebugLevel, util.TraceLevel}
	return lvls[verbose-1]
}

// Load builds a validated Config from defaults, the optional file at path
// (YAML, JSON or TOML) and VYLFS_* environment variables, in increasing
// order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range overrideKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var override ConfigOverride
	if err := v.Unmarshal(&override); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg := NewConfig(&override)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// YAML renders the effective configuration
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
