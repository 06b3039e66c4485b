package appdata

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/calvinalkan/envcache/internal/lock"
)

const tempPrefix = "envcache-"

// TempDir is app data in a fresh temporary folder, removed by Close.
type TempDir struct {
	*DiskFolder

	closeOnce sync.Once
	closeErr  error
}

// NewTempDir creates a temporary folder under the OS temp dir.
func NewTempDir(opts Options) (*TempDir, error) {
	opts = opts.withDefaults()

	folder, err := opts.FS.MkdirTemp("", tempPrefix)
	if err != nil {
		return nil, fmt.Errorf("create temporary app data folder: %w", err)
	}

	registry := opts.Registry
	t := &TempDir{
		DiskFolder: newDiskFolder(opts, func(folder string) lock.PathLock {
			return lock.NewReentrantWithRegistry(folder, registry)
		}, folder),
	}

	log.Debug("created temporary app data folder", "path", t.Path())

	return t, nil
}

func (t *TempDir) String() string {
	return fmt.Sprintf("TempDir(%s)", t.Path())
}

func (t *TempDir) Transient() bool { return true }
func (t *TempDir) CanUpdate() bool { return false }

// Reset is a no-op: the folder starts empty and dies with Close.
func (t *TempDir) Reset() error { return nil }

// Close removes the folder and everything in it.
func (t *TempDir) Close() error {
	t.closeOnce.Do(func() {
		log.Debug("removing temporary app data folder", "path", t.Path())

		if err := safeDelete(t.fs, t.Path()); err != nil {
			t.closeErr = fmt.Errorf("remove temporary app data: %w", err)
		}
	})

	return t.closeErr
}

func (t *TempDir) EmbedUpdateLog(string, string) (ContentStore, error) {
	return nil, fmt.Errorf("embed update log on temporary app data: %w", ErrNotSupported)
}

var _ AppData = (*TempDir)(nil)
