package os

import (
	"fmt"
	"os"

	"github.com/creachadair/atomicfile"
)

// EnsureDir creates dir (and its parents) unless it already exists. A
// file in the way is an error.
func EnsureDir(dir string, mode os.FileMode) error {
	if err := os.MkdirAll(dir, mode); err != nil {
		return fmt.Errorf("could not create directory %v: %w", dir, err)
	}
	return nil
}

func FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return !os.IsNotExist(err)
}

// WriteFileAtomic replaces filePath with contents so that readers observe
// either the old or the new file, never a partial write. Used for key and
// genesis material.
func WriteFileAtomic(filePath string, contents []byte, mode os.FileMode) error {
	if err := atomicfile.WriteData(filePath, contents, mode); err != nil {
		return fmt.Errorf("writing %s: %w", filePath, err)
	}
	return nil
}
