// Package appdata manages the on-disk application data cache: interpreter
// introspection records, update-check logs, wheel caches and one-time
// archive extractions, all coordinated across processes through
// [lock.PathLock].
//
// Three kinds exist. [DiskFolder] persists across runs, [TempDir] lives for
// the process and is removed by Close, and [ReadOnly] serves lookups from an
// existing folder without locking or writing. [Make] picks one.
package appdata

import (
	"github.com/calvinalkan/envcache/internal/fs"
	"github.com/calvinalkan/envcache/internal/lock"
)

// Version names the unzip staging area. Overridden at link time.
var Version = "dev"

// AppData is a cache folder and the stores inside it.
type AppData interface {
	// Path is the resolved cache root.
	Path() string

	// Transient reports whether the folder disappears with the process.
	// Transient app data never supports update tracking.
	Transient() bool

	// CanUpdate reports whether update-check logs are kept.
	CanUpdate() bool

	// Reset deletes everything under the root. A missing root is not an error.
	Reset() error

	// Close releases the app data. No other method may be called after it;
	// calling Close again is a no-op.
	Close() error

	// Locked runs fn with the whole-directory lock of <root>/<path> held and
	// passes it the resolved directory.
	Locked(path string, fn func(dir string) error) error

	// Extract makes sure archive is extracted once into
	// <toFolder()>/<archive name>, or <root>/unzip/<version>/<archive name>
	// when toFolder is nil, and runs fn with that destination while the
	// archive's key lock is held.
	Extract(archive string, toFolder func() string, fn func(dest string) error) error

	// PyInfo returns the introspection record for an interpreter path.
	PyInfo(interpreterPath string) ContentStore

	// PyInfoClear deletes every introspection record.
	PyInfoClear() error

	// EmbedUpdateLog returns the update-check record of distribution for a
	// Python major.minor version.
	EmbedUpdateLog(distribution, pyVersion string) (ContentStore, error)

	// House creates and returns the flat wheel download directory.
	House() (string, error)

	// WheelImage returns the unpacked image directory of a wheel. It does
	// not create it.
	WheelImage(pyVersion, name string) string
}

// Stable layout relative to the root. Bump a version segment when the
// format of what lives below it changes.
const (
	pyInfoDir    = "py_info"
	pyInfoFormat = "1"
	wheelDir     = "wheel"
	houseDir     = "house"
	embedDir     = "embed"
	embedFormat  = "3"
	imageDir     = "image"
	imageFormat  = "1"
	unzipDir     = "unzip"
)

// Options configures app data construction. Zero values pick defaults.
type Options struct {
	// FS is used for everything except lock files. Defaults to the real
	// filesystem.
	FS fs.FS

	// Registry backs the path locks. Defaults to [lock.ProcessRegistry].
	Registry *lock.Registry

	// Version names the unzip staging area. Defaults to [Version].
	Version string

	// Extractor performs archive extraction. Defaults to [Unzip].
	Extractor Extractor
}

func (o Options) withDefaults() Options {
	if o.FS == nil {
		o.FS = fs.NewReal()
	}

	if o.Registry == nil {
		o.Registry = lock.ProcessRegistry()
	}

	if o.Version == "" {
		o.Version = Version
	}

	if o.Extractor == nil {
		o.Extractor = Unzip
	}

	return o
}
