//go:build unix

package container

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

func checkWritable(path string) error {
	if err := unix.Access(path, unix.W_OK); err == nil {
		return nil
	} else if !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("'%s' is not writable: %w", path, err)
	}

	dir := filepath.Dir(path)
	stat, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("unable to stat directory '%s': %w", dir, err)
	}
	if !stat.IsDir() {
		return fmt.Errorf("'%s' is not a directory", dir)
	}
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("directory '%s' is not writable: %w", dir, err)
	}
	return nil
}
