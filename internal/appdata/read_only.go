package appdata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/calvinalkan/envcache/internal/lock"
)

// ReadOnly serves lookups from an existing folder that this process must not
// modify, such as a cache baked into a container image. Nothing is locked.
type ReadOnly struct {
	*DiskFolder
}

// NewReadOnly returns read-only app data for folder, which must exist.
func NewReadOnly(folder string, opts Options) (*ReadOnly, error) {
	opts = opts.withDefaults()

	info, err := opts.FS.Stat(folder)
	if err != nil {
		return nil, fmt.Errorf("read-only app data folder %s: %w", folder, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("read-only app data folder %s: not a directory", folder)
	}

	newLock := func(folder string) lock.PathLock { return lock.NewNoOp(folder) }

	return &ReadOnly{DiskFolder: newDiskFolder(opts, newLock, folder)}, nil
}

func (r *ReadOnly) String() string {
	return fmt.Sprintf("ReadOnly(%s)", r.Path())
}

func (r *ReadOnly) CanUpdate() bool { return false }

func (r *ReadOnly) Reset() error {
	return fmt.Errorf("reset: %w", ErrReadOnly)
}

func (r *ReadOnly) PyInfoClear() error {
	return fmt.Errorf("clear python info: %w", ErrReadOnly)
}

func (r *ReadOnly) PyInfo(interpreterPath string) ContentStore {
	return readOnlyStore{JSONStore: NewPyInfoStore(r.fs, r.pyInfoLock(), interpreterPath)}
}

func (r *ReadOnly) EmbedUpdateLog(string, string) (ContentStore, error) {
	return nil, fmt.Errorf("embed update log on read-only app data: %w", ErrNotSupported)
}

// House returns the wheel house if it exists.
func (r *ReadOnly) House() (string, error) {
	path := filepath.Join(r.Path(), wheelDir, houseDir)

	if _, err := r.fs.Stat(path); err != nil {
		return "", fmt.Errorf("wheel house: %w", err)
	}

	return path, nil
}

// Extract only hands out destinations that are already extracted.
func (r *ReadOnly) Extract(archive string, toFolder func() string, fn func(dest string) error) error {
	root := filepath.Join(r.Path(), unzipDir, r.version)
	if toFolder != nil {
		root = toFolder()
	}

	dest := filepath.Join(root, filepath.Base(archive))

	_, err := r.fs.Stat(dest)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("extract %s: %w", archive, ErrReadOnly)
	}

	if err != nil {
		return fmt.Errorf("extract %s: %w", archive, err)
	}

	return fn(dest)
}

var _ AppData = (*ReadOnly)(nil)
