package config

// MountOptions holds high-level settings for mounting.
// No go-fuse types are exposed here.
type MountOptions struct {
	Debug       bool   `yaml:"debug"`                       // fuse debug logs
	FsName      string `yaml:"fs_name" validate:"required"` // mount's FsName
	Name        string `yaml:"name" validate:"required"`    // mount's Name (fuse.<Name> type)
	AllowRoot   bool   `yaml:"allow_root"`                  // let root access the mount
	AutoUnmount bool   `yaml:"auto_unmount"`                // unmount when the process exits
}
