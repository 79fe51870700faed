// Package platform holds the OS-specific pieces used when packing files
// from a directory tree.
package platform

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

var (
	// ErrSymlink is returned when a packed path is a symbolic link.
	ErrSymlink = errors.New("symbolic links not supported")

	// ErrNotRegular is returned when a packed path is not a regular file.
	ErrNotRegular = errors.New("not a regular file")
)

// OpenRegular opens name inside root for reading. Symbolic links and
// anything other than a regular file are refused.
func OpenRegular(root *os.Root, name string) (*os.File, error) {
	// os.Root resolves a trailing symlink itself, so check before opening.
	info, err := root.Lstat(name)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrSymlink)
	}

	f, err := openFile(root, name)
	if err != nil {
		return nil, err
	}
	info, err = f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%s: %w", name, ErrNotRegular)
	}
	return f, nil
}
