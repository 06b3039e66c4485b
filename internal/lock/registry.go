package lock

import (
	"sync"

	"github.com/calvinalkan/envcache/internal/fs"
)

// Registry maps lock file paths to the one [FileLock] that represents them
// inside this process.
//
// Entries are created on first [Registry.Acquire] and evicted by
// [Registry.Release] once nobody references them and they are not held.
// Every Acquire must be paired with exactly one Release.
//
// Lock ordering: Registry.mu is never held while waiting on an OS lock.
// FileLock depth is read atomically, so eviction does not need FileLock.mu.
type Registry struct {
	fs     fs.FS
	locker *fs.Locker

	mu    sync.Mutex
	locks map[string]*FileLock
}

// NewRegistry creates an empty registry whose locks go through fsys.
func NewRegistry(fsys fs.FS) *Registry {
	return &Registry{
		fs:     fsys,
		locker: fs.NewLocker(fsys),
		locks:  make(map[string]*FileLock),
	}
}

var processRegistry = sync.OnceValue(func() *Registry {
	return NewRegistry(fs.NewReal())
})

// ProcessRegistry returns the registry shared by the whole process.
//
// It lives for the lifetime of the process; entries clean themselves up
// through reference counting.
func ProcessRegistry() *Registry {
	return processRegistry()
}

// FS returns the filesystem the registry's locks use.
func (r *Registry) FS() fs.FS {
	return r.fs
}

// Locker returns the OS-level locker backing the registry.
func (r *Registry) Locker() *fs.Locker {
	return r.locker
}

// Acquire returns the shared handle for path, creating it if needed, and
// takes a reference on it. It does not lock the file.
func (r *Registry) Acquire(path string) *FileLock {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[path]
	if !ok {
		l = NewFileLock(r.locker, path)
		r.locks[path] = l
	}

	l.refs++

	return l
}

// Release drops a reference taken by [Registry.Acquire]. The entry is
// evicted when no references remain and the lock is not held.
func (r *Registry) Release(l *FileLock) {
	if l == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l.refs > 0 {
		l.refs--
	}

	if l.refs > 0 || l.depth.Load() > 0 {
		return
	}

	if current, ok := r.locks[l.path]; ok && current == l {
		delete(r.locks, l.path)
	}
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.locks)
}

// Lookup returns the live handle for path without taking a reference.
func (r *Registry) Lookup(path string) (*FileLock, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[path]

	return l, ok
}
