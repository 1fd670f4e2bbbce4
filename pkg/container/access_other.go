//go:build !unix

package container

import (
	"fmt"
	"os"
	"path/filepath"
)

func checkWritable(path string) error {
	dir := filepath.Dir(path)
	stat, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("unable to stat directory '%s': %w", dir, err)
	}
	if !stat.IsDir() {
		return fmt.Errorf("'%s' is not a directory", dir)
	}
	return nil
}
