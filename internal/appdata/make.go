package appdata

import (
	"fmt"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

// EnvAppData overrides the default app data folder.
const EnvAppData = "ENVCACHE_APP_DATA"

const appName = "envcache"

// MakeOptions selects the app data returned by [Make].
type MakeOptions struct {
	Options

	// Folder is the cache root. Empty means [DefaultFolder].
	Folder string

	// Env is consulted instead of the process environment.
	Env map[string]string

	// ReadOnly serves an existing folder without writing to it.
	ReadOnly bool

	// Temp uses a throwaway folder that Close removes.
	Temp bool
}

// DefaultFolder returns $ENVCACHE_APP_DATA from env, else
// $XDG_DATA_HOME/envcache.
func DefaultFolder(env map[string]string) string {
	if folder := env[EnvAppData]; folder != "" {
		return folder
	}

	if dataHome := env["XDG_DATA_HOME"]; dataHome != "" {
		return filepath.Join(dataHome, appName)
	}

	return filepath.Join(xdg.DataHome, appName)
}

// Make returns the app data described by opts.
//
// A folder that cannot be created or written to is not fatal: Make logs it
// and falls back to a [TempDir].
func Make(opts MakeOptions) (AppData, error) {
	folder := opts.Folder
	if folder == "" {
		folder = DefaultFolder(opts.Env)
	}

	folder, err := filepath.Abs(folder)
	if err != nil {
		return nil, fmt.Errorf("resolve app data folder: %w", err)
	}

	if opts.Temp {
		return asAppData(NewTempDir(opts.Options))
	}

	if opts.ReadOnly {
		return asAppData(NewReadOnly(folder, opts.Options))
	}

	fsys := opts.withDefaults().FS

	if ok, _ := fsys.Exists(folder); !ok {
		if err := fsys.MkdirAll(folder, folderPerm); err != nil {
			log.Info("could not create app data folder", "path", folder, "error", err)
		} else {
			log.Debug("created app data folder", "path", folder)
		}
	}

	if err := unix.Access(folder, unix.W_OK); err != nil {
		log.Debug("app data folder has no write access", "path", folder, "error", err)

		return asAppData(NewTempDir(opts.Options))
	}

	return asAppData(NewDiskFolder(folder, opts.Options))
}

// asAppData keeps a failed constructor from yielding a non-nil interface
// holding a nil pointer.
func asAppData[T AppData](data T, err error) (AppData, error) {
	if err != nil {
		return nil, err
	}

	return data, nil
}
