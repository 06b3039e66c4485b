package appdata

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	envfs "github.com/calvinalkan/envcache/internal/fs"
	"github.com/calvinalkan/envcache/internal/lock"
)

// DiskFolder is persistent app data rooted at a directory.
type DiskFolder struct {
	fs        envfs.FS
	lock      lock.PathLock
	newLock   func(folder string) lock.PathLock
	version   string
	extractor Extractor
}

// NewDiskFolder creates folder if needed and returns app data rooted there.
func NewDiskFolder(folder string, opts Options) (*DiskFolder, error) {
	opts = opts.withDefaults()

	if err := opts.FS.MkdirAll(folder, folderPerm); err != nil {
		return nil, fmt.Errorf("create app data folder: %w", err)
	}

	registry := opts.Registry
	d := newDiskFolder(opts, func(folder string) lock.PathLock {
		return lock.NewReentrantWithRegistry(folder, registry)
	}, folder)

	log.Debug("using app data folder", "path", d.Path())

	return d, nil
}

func newDiskFolder(opts Options, newLock func(string) lock.PathLock, folder string) *DiskFolder {
	return &DiskFolder{
		fs:        opts.FS,
		lock:      newLock(folder),
		newLock:   newLock,
		version:   opts.Version,
		extractor: opts.Extractor,
	}
}

func (d *DiskFolder) String() string {
	return fmt.Sprintf("DiskFolder(%s)", d.Path())
}

func (d *DiskFolder) Path() string    { return d.lock.Path() }
func (d *DiskFolder) Transient() bool { return false }
func (d *DiskFolder) CanUpdate() bool { return true }
func (d *DiskFolder) Close() error    { return nil }

// Reset removes the whole folder. The next write recreates what it needs.
func (d *DiskFolder) Reset() error {
	log.Debug("reset app data folder", "path", d.Path())

	if err := safeDelete(d.fs, d.Path()); err != nil {
		return fmt.Errorf("reset app data: %w", err)
	}

	return nil
}

func (d *DiskFolder) Locked(path string, fn func(dir string) error) error {
	pl := d.lock.Join(path)

	return lock.WithLock(pl, func() error {
		return fn(pl.Path())
	})
}

func (d *DiskFolder) Extract(archive string, toFolder func() string, fn func(dest string) error) error {
	root := d.lock.Join(unzipDir, d.version)
	if toFolder != nil {
		root = d.newLock(toFolder())
	}

	name := filepath.Base(archive)
	dest := filepath.Join(root.Path(), name)

	return lock.WithKeyLock(root, name, false, func() error {
		if err := extractOnce(d.fs, d.extractor, archive, dest); err != nil {
			return err
		}

		return fn(dest)
	})
}

func (d *DiskFolder) PyInfo(interpreterPath string) ContentStore {
	return NewPyInfoStore(d.fs, d.pyInfoLock(), interpreterPath)
}

// PyInfoClear removes every interpreter record, each under its own key
// lock, while holding the folder lock so no new record appears mid-sweep.
func (d *DiskFolder) PyInfoClear() error {
	pl := d.pyInfoLock()

	return lock.WithLock(pl, func() error {
		entries, err := d.fs.ReadDir(pl.Path())
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("list python info: %w", err)
		}

		var errs []error

		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || filepath.Ext(name) != jsonExt {
				continue
			}

			key := strings.TrimSuffix(name, jsonExt)
			store := NewJSONStore(d.fs, pl, key, "python info "+key)

			errs = append(errs, store.Locked(func() error {
				if !store.Exists() {
					return nil
				}

				err := store.Remove()
				if errors.Is(err, os.ErrNotExist) {
					return nil
				}

				return err
			}))
		}

		return errors.Join(errs...)
	})
}

func (d *DiskFolder) EmbedUpdateLog(distribution, pyVersion string) (ContentStore, error) {
	return NewEmbedUpdateStore(d.fs, d.lock.Join(wheelDir, pyVersion, embedDir, embedFormat), distribution), nil
}

func (d *DiskFolder) House() (string, error) {
	path := filepath.Join(d.Path(), wheelDir, houseDir)

	if err := d.fs.MkdirAll(path, folderPerm); err != nil {
		return "", fmt.Errorf("create wheel house: %w", err)
	}

	return path, nil
}

func (d *DiskFolder) WheelImage(pyVersion, name string) string {
	return filepath.Join(d.Path(), wheelDir, pyVersion, imageDir, imageFormat, name)
}

func (d *DiskFolder) pyInfoLock() lock.PathLock {
	return d.lock.Join(pyInfoDir, pyInfoFormat)
}

// safeDelete removes path recursively. Read-only directories inside the tree
// are made writable and the removal retried once.
func safeDelete(fsys envfs.FS, path string) error {
	err := fsys.RemoveAll(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if !errors.Is(err, os.ErrPermission) {
		return err
	}

	log.Debug("retrying removal after making tree writable", "path", path, "error", err)

	_ = filepath.WalkDir(path, func(p string, entry fs.DirEntry, walkErr error) error {
		if walkErr == nil && entry.IsDir() {
			_ = os.Chmod(p, folderPerm)
		}

		return nil
	})

	return fsys.RemoveAll(path)
}

var _ AppData = (*DiskFolder)(nil)
