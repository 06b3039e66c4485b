// Package lock implements process-safe, reentrant locking over lock files in
// a shared cache folder.
//
// Three layers build on each other:
//
//   - [FileLock]: one lock file, counted reentrancy on top of a flock held
//     through [fs.Locker]. The OS lock is held iff Depth() > 0.
//   - [Registry]: hands out a single shared FileLock per path so every
//     caller in the process coordinates through the same counter.
//   - [PathLock]: a directory plus per-key lock files (<dir>/<key>.lock),
//     with a real ([Reentrant]) and a pass-through ([NoOp]) variant.
//
// Reentrancy is counted per FileLock, and the registry shares one FileLock
// per path, so nested acquisitions nest across the whole process. Use
// [PathLock.NonReentrantLockForKey] when goroutines must exclude each other:
// it opens its own descriptor, and flock treats separate descriptors as
// separate owners.
package lock

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/calvinalkan/envcache/internal/fs"
)

// ErrLockTimeout is returned when a bounded or non-blocking acquisition
// could not get the lock. It is never swallowed by this package.
var ErrLockTimeout = errors.New("lock timeout")

// FileLock is a reentrant lock on a single lock file.
//
// Acquire on a held FileLock only increments the depth; the OS lock is
// taken on the 0 -> 1 transition and dropped on 1 -> 0.
type FileLock struct {
	path   string
	locker *fs.Locker

	// turn admits one goroutine at a time to the OS lock wait. The others
	// queue on it under their own deadline, so TryAcquire and AcquireTimeout
	// never wait behind a blocked Acquire.
	turn chan struct{}

	// mu guards held and depth transitions. It is never held across an OS
	// lock wait.
	mu    sync.Mutex
	held  *fs.Lock
	depth atomic.Int32

	// refs counts registry references. Guarded by Registry.mu.
	refs int
}

// NewFileLock returns an unregistered lock on path with its own descriptor.
//
// Two FileLocks for the same path contend through flock even inside one
// process. Most callers want [Registry.Acquire] instead.
func NewFileLock(locker *fs.Locker, path string) *FileLock {
	return &FileLock{path: path, locker: locker, turn: make(chan struct{}, 1)}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// Depth returns the current reentrancy depth.
func (l *FileLock) Depth() int {
	return int(l.depth.Load())
}

// Acquire takes the lock, blocking without a deadline.
//
// It first tries without blocking; if another owner holds the file it logs
// that it is waiting and then blocks until the owner releases.
func (l *FileLock) Acquire() error {
	return l.acquire(l.waitTurn, func() (*fs.Lock, error) {
		held, err := l.locker.TryLock(l.path)
		if !errors.Is(err, fs.ErrWouldBlock) {
			return held, err
		}

		log.Debug("lock file present, will block until released", "path", l.path)

		return l.locker.Lock(l.path)
	})
}

// AcquireTimeout takes the lock, failing with [ErrLockTimeout] if it is not
// obtained within timeout. Time spent queued behind another goroutine of
// this process counts against the timeout.
func (l *FileLock) AcquireTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("acquire %s: %w: %s", l.path, fs.ErrInvalidTimeout, timeout)
	}

	deadline := time.Now().Add(timeout)

	return l.acquire(func() bool { return l.waitTurnUntil(deadline) }, func() (*fs.Lock, error) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return l.locker.TryLock(l.path)
		}

		return l.locker.LockWithTimeout(l.path, remaining)
	})
}

// TryAcquire takes the lock only if it is immediately available, failing
// with [ErrLockTimeout] otherwise. That includes another goroutine of this
// process still waiting for the OS lock.
func (l *FileLock) TryAcquire() error {
	return l.acquire(l.tryTurn, func() (*fs.Lock, error) {
		return l.locker.TryLock(l.path)
	})
}

func (l *FileLock) acquire(turn func() bool, take func() (*fs.Lock, error)) error {
	if l.reenter() {
		return nil
	}

	if !turn() {
		return fmt.Errorf("%w: %s: %w", ErrLockTimeout, l.path, fs.ErrWouldBlock)
	}

	defer func() { <-l.turn }()

	// The previous turn holder may have taken the lock while we queued.
	if l.reenter() {
		return nil
	}

	held, err := take()
	if err != nil {
		if errors.Is(err, fs.ErrWouldBlock) {
			return fmt.Errorf("%w: %s: %w", ErrLockTimeout, l.path, err)
		}

		return fmt.Errorf("acquire %s: %w", l.path, err)
	}

	l.mu.Lock()
	l.held = held
	l.depth.Store(1)
	l.mu.Unlock()

	return nil
}

// reenter bumps the depth if the lock is already held.
func (l *FileLock) reenter() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.depth.Load() == 0 {
		return false
	}

	l.depth.Add(1)

	return true
}

func (l *FileLock) waitTurn() bool {
	l.turn <- struct{}{}

	return true
}

func (l *FileLock) tryTurn() bool {
	select {
	case l.turn <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *FileLock) waitTurnUntil(deadline time.Time) bool {
	if l.tryTurn() {
		return true
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case l.turn <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// Release drops one level of reentrancy. The OS lock is released when the
// depth goes from 1 to 0. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch depth := l.depth.Load(); {
	case depth == 0:
		return nil
	case depth > 1:
		l.depth.Add(-1)

		return nil
	}

	return l.unlock()
}

// ForceRelease releases the OS lock regardless of depth and resets the
// depth to 0. Meant for cleanup after abnormal exits, not the normal path.
func (l *FileLock) ForceRelease() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.unlock()
}

func (l *FileLock) unlock() error {
	l.depth.Store(0)

	if l.held == nil {
		return nil
	}

	err := l.held.Close()
	l.held = nil

	if err != nil {
		return fmt.Errorf("release %s: %w", l.path, err)
	}

	return nil
}
