package ghost

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var ErrFileExists = errors.New("ghost: file already exists")

// FileSystem is the only file access the dispatcher needs.
type FileSystem interface {
	// CreateExclusive writes data to a new file at path. It fails with
	// ErrFileExists when path is already present and never leaves a
	// partial file behind.
	CreateExclusive(path string, data []byte) error
}

type OSFileSystem struct {
	Perm fs.FileMode
}

func (o OSFileSystem) CreateExclusive(path string, data []byte) error {
	perm := o.Perm
	if perm == 0 {
		perm = 0o644
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrFileExists, path)
		}
		return err
	}
	n, werr := f.Write(data)
	cerr := f.Close()
	if werr == nil && n != len(data) {
		werr = fmt.Errorf("ghost: short write %d/%d bytes", n, len(data))
	}
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(path)
		return werr
	}
	return nil
}
