// Package dataset enumerates the files a load test uploads.
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ErrInvalidPath is returned when the dataset root is missing or unreadable.
var ErrInvalidPath = errors.New("invalid dataset path")

// Dataset is a directory of files to upload. Paths are absolute and sorted.
type Dataset struct {
	RootDir    string
	Paths      []string
	TotalBytes int64
}

// Load walks root recursively and collects every regular file beneath it.
// Directories themselves are not part of the dataset.
func Load(root string) (Dataset, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return Dataset{}, fmt.Errorf("%w: dataset directory does not exist: %s", ErrInvalidPath, root)
		}
		return Dataset{}, fmt.Errorf("%w: cannot access %s: %v", ErrInvalidPath, root, err)
	}
	if !info.IsDir() {
		return Dataset{}, fmt.Errorf("%w: not a directory: %s", ErrInvalidPath, root)
	}

	// siad needs absolute source paths.
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Dataset{}, fmt.Errorf("%w: cannot get absolute path: %v", ErrInvalidPath, err)
	}

	ds := Dataset{RootDir: absRoot, Paths: make([]string, 0)}
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			rel, relErr := filepath.Rel(absRoot, path)
			if relErr != nil {
				rel = path
			}
			return fmt.Errorf("cannot read %s: %w", rel, err)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return fmt.Errorf("cannot get info for %s: %w", path, err)
		}
		ds.Paths = append(ds.Paths, path)
		ds.TotalBytes += fi.Size()
		return nil
	})
	if err != nil {
		return Dataset{}, fmt.Errorf("%w: unable to read dataset directory %s: %v", ErrInvalidPath, root, err)
	}

	sort.Strings(ds.Paths)
	return ds, nil
}
