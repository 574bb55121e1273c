package util

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// NoLogsMsg is printed by ViewLog when the log file does not exist
const NoLogsMsg = "no logs available"

// ViewLog copies the log file at path to w. A missing file is not an error.
func ViewLog(path string, w io.Writer) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		_, err = fmt.Fprintln(w, NoLogsMsg)
		return err
	}
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read log file %s: %w", path, err)
	}
	return nil
}
