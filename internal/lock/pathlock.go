package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// lockSuffix is appended to keys to form lock file names. The directory's
// own lock uses the empty key, i.e. "<dir>/.lock".
const lockSuffix = ".lock"

const dirPerm = 0o755

// PathLock is a directory-scoped lock with per-key sub-locks.
//
// Implementations: [Reentrant] locks through a [Registry]; [NoOp] passes
// every operation through for callers that already exclude each other.
type PathLock interface {
	// Path returns the directory this lock is scoped to.
	Path() string

	// Join returns a PathLock of the same kind rooted at Path()/elem...
	Join(elem ...string) PathLock

	// Lock takes the whole-directory lock. Pair every successful call
	// with Unlock.
	Lock() error

	// Unlock releases the most recent Lock.
	Unlock() error

	// LockForKey locks <Path()>/<name>.lock and returns its release func.
	// With noBlock it fails with [ErrLockTimeout] instead of waiting.
	LockForKey(name string, noBlock bool) (release func() error, err error)

	// NonReentrantLockForKey locks <Path()>/<name>.lock through a private
	// descriptor that bypasses the registry. Nested calls for the same key
	// block on each other, even from the same goroutine.
	NonReentrantLockForKey(name string) (release func() error, err error)
}

// Reentrant is the real [PathLock], backed by a [Registry].
//
// Two Reentrant values with the same path contend on the same lock files and
// share handles through their registry.
type Reentrant struct {
	path     string
	registry *Registry

	mu    sync.Mutex
	stack []*FileLock
}

// NewReentrant returns a PathLock for folder using the process registry.
func NewReentrant(folder string) *Reentrant {
	return NewReentrantWithRegistry(folder, ProcessRegistry())
}

// NewReentrantWithRegistry returns a PathLock for folder using registry.
func NewReentrantWithRegistry(folder string, registry *Registry) *Reentrant {
	return &Reentrant{
		path:     resolvePath(folder),
		registry: registry,
	}
}

func (r *Reentrant) String() string {
	return fmt.Sprintf("Reentrant(%s)", r.path)
}

func (r *Reentrant) Path() string {
	return r.path
}

// Registry returns the registry backing this lock.
func (r *Reentrant) Registry() *Registry {
	return r.registry
}

func (r *Reentrant) Join(elem ...string) PathLock {
	return NewReentrantWithRegistry(filepath.Join(append([]string{r.path}, elem...)...), r.registry)
}

func (r *Reentrant) Lock() error {
	handle := r.registry.Acquire(r.keyFile(""))

	if err := r.take(handle, false); err != nil {
		r.registry.Release(handle)

		return err
	}

	r.mu.Lock()
	r.stack = append(r.stack, handle)
	r.mu.Unlock()

	return nil
}

func (r *Reentrant) Unlock() error {
	r.mu.Lock()

	if len(r.stack) == 0 {
		r.mu.Unlock()

		return nil
	}

	handle := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	r.mu.Unlock()

	err := handle.Release()
	r.registry.Release(handle)

	return err
}

func (r *Reentrant) LockForKey(name string, noBlock bool) (func() error, error) {
	handle := r.registry.Acquire(r.keyFile(name))

	if err := r.take(handle, noBlock); err != nil {
		r.registry.Release(handle)

		return nil, err
	}

	return sync.OnceValue(func() error {
		err := handle.Release()
		r.registry.Release(handle)

		return err
	}), nil
}

func (r *Reentrant) NonReentrantLockForKey(name string) (func() error, error) {
	handle := NewFileLock(r.registry.Locker(), r.keyFile(name))

	if err := r.take(handle, false); err != nil {
		return nil, err
	}

	return sync.OnceValue(handle.Release), nil
}

// take makes sure the directory exists and acquires handle. Losing a race
// with a concurrent creator of the directory is fine, so mkdir errors are
// ignored; a real failure shows up when the lock file is opened.
func (r *Reentrant) take(handle *FileLock, noBlock bool) error {
	_ = r.registry.FS().MkdirAll(r.path, dirPerm)

	if noBlock {
		return handle.TryAcquire()
	}

	return handle.Acquire()
}

func (r *Reentrant) keyFile(name string) string {
	return filepath.Join(r.path, name+lockSuffix)
}

// NoOp is a [PathLock] whose lock operations do nothing.
type NoOp struct {
	path string
}

// NewNoOp returns a pass-through PathLock for folder.
func NewNoOp(folder string) *NoOp {
	return &NoOp{path: resolvePath(folder)}
}

func (n *NoOp) String() string {
	return fmt.Sprintf("NoOp(%s)", n.path)
}

func (n *NoOp) Path() string { return n.path }

func (n *NoOp) Join(elem ...string) PathLock {
	return NewNoOp(filepath.Join(append([]string{n.path}, elem...)...))
}

func (*NoOp) Lock() error   { return nil }
func (*NoOp) Unlock() error { return nil }

func (*NoOp) LockForKey(string, bool) (func() error, error) {
	return noRelease, nil
}

func (*NoOp) NonReentrantLockForKey(string) (func() error, error) {
	return noRelease, nil
}

func noRelease() error { return nil }

// resolvePath makes folder absolute and resolves symlinks when it exists.
func resolvePath(folder string) string {
	abs, err := filepath.Abs(folder)
	if err != nil {
		abs = filepath.Clean(folder)
	}

	if _, err := os.Stat(abs); err != nil {
		return abs
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}

	return abs
}

// Compile-time interface checks.
var (
	_ PathLock = (*Reentrant)(nil)
	_ PathLock = (*NoOp)(nil)
)
