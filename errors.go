package vylfs

import "errors"

// Engine error kinds. Operations wrap these with context; match with errors.Is.
var (
	ErrNotFound    = errors.New("no such entry")
	ErrExists      = errors.New("entry already exists")
	ErrInvalidName = errors.New("invalid name")
	ErrNotDir      = errors.New("not a directory")
	ErrNotEmpty    = errors.New("directory not empty")
	ErrTooLarge    = errors.New("file too large")
)
