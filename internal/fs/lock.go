package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned when a lock cannot be acquired without waiting.
	//
	// It is returned by [Locker.TryLock] when the lock is held
	// through another open file description, and by the *WithTimeout methods
	// when the acquisition timeout expires.
	ErrWouldBlock = errors.New("lock would block")

	// ErrInvalidTimeout is returned when a timeout is <= 0.
	ErrInvalidTimeout = errors.New("invalid lock timeout")

	// errReplaced signals that the lock file was swapped between open and
	// flock. The caller retries with a fresh descriptor.
	errReplaced = errors.New("lock file replaced")
)

const (
	lockFilePerm = 0o600
	lockDirPerm  = 0o755

	pollMin = time.Millisecond
	pollMax = 25 * time.Millisecond
)

// Locker acquires flock(2) locks on lock files.
//
// flock is advisory and attaches to an open file description, not to a path
// or a process: two descriptors opened on the same file contend with each
// other even inside one process. The cache layer relies on that to get real
// mutual exclusion for non-reentrant locks.
//
// After flock succeeds, Locker checks that the descriptor still refers to the
// inode at path (dev+ino). If the file was unlinked or replaced while we
// waited, the lock is dropped and acquisition starts over, so two callers can
// never both believe they hold "the lock at path" on different inodes.
//
// Locker is Unix-only and safe for concurrent use.
type Locker struct {
	fs    FS
	flock func(fd int, how int) error
}

// NewLocker creates a Locker that opens lock files through fsys.
func NewLocker(fsys FS) *Locker {
	return &Locker{
		fs:    fsys,
		flock: unix.Flock,
	}
}

// Lock is a held file lock. Call [Lock.Close] to release it.
type Lock struct {
	mu    sync.Mutex
	path  string
	file  File
	flock func(fd int, how int) error
}

// Path returns the lock file path.
func (lk *Lock) Path() string {
	return lk.path
}

// Close unlocks and closes the descriptor. Calling Close again returns nil.
//
// The lock file itself is left on disk; unlinking it while other processes
// may be waiting on it would let a late waiter lock an orphaned inode.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	var unlockErr, closeErr error

	if err := flockIgnoringEINTR(lk.flock, int(lk.file.Fd()), unix.LOCK_UN); err != nil {
		unlockErr = fmt.Errorf("unlock %s: %w", lk.path, err)
	}

	if err := lk.file.Close(); err != nil {
		closeErr = fmt.Errorf("close %s: %w", lk.path, err)
	}

	lk.file = nil

	return errors.Join(unlockErr, closeErr)
}

// Lock acquires an exclusive lock on path, blocking in the kernel until it
// is available. Missing parent directories and the lock file are created.
func (l *Locker) Lock(path string) (*Lock, error) {
	return l.wait(path, unix.LOCK_EX)
}

// LockWithTimeout polls for an exclusive lock until timeout expires.
//
// Returns an error satisfying errors.Is(err, [ErrWouldBlock]) on expiry and
// [ErrInvalidTimeout] if timeout <= 0. The deadline is best effort; it can
// overshoot by one poll interval (at most 25ms) under scheduler delay.
func (l *Locker) LockWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimeout, timeout)
	}

	return l.poll(path, unix.LOCK_EX, timeout)
}

// TryLock makes a single non-blocking attempt at an exclusive lock.
// Returns [ErrWouldBlock] if the lock is held elsewhere.
func (l *Locker) TryLock(path string) (*Lock, error) {
	return l.poll(path, unix.LOCK_EX, 0)
}

func (l *Locker) wait(path string, how int) (*Lock, error) {
	for {
		lk, err := l.attempt(path, how)
		if errors.Is(err, errReplaced) {
			continue
		}

		return lk, err
	}
}

// poll retries non-blocking attempts with exponential backoff.
// timeout == 0 means a single attempt.
func (l *Locker) poll(path string, how int, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	backoff := pollMin

	for {
		lk, err := l.attempt(path, how|unix.LOCK_NB)
		if err == nil {
			return lk, nil
		}

		if !errors.Is(err, ErrWouldBlock) && !errors.Is(err, errReplaced) {
			return nil, err
		}

		if timeout == 0 {
			return nil, ErrWouldBlock
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: timed out after %s waiting for %s", ErrWouldBlock, timeout, path)
		}

		time.Sleep(min(backoff, remaining))

		backoff = min(backoff*2, pollMax)
	}
}

// attempt opens path, flocks it with how, and verifies the inode. On any
// failure the descriptor is closed before returning.
func (l *Locker) attempt(path string, how int) (*Lock, error) {
	file, err := l.open(path)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	fd := int(file.Fd())

	err = flockIgnoringEINTR(l.flock, fd, how)
	if err != nil {
		_ = file.Close()

		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	same, err := sameInode(fd, path)
	if err == nil && same {
		return &Lock{path: path, file: file, flock: l.flock}, nil
	}

	_ = flockIgnoringEINTR(l.flock, fd, unix.LOCK_UN)
	_ = file.Close()

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("verify lock inode: %w", err)
	}

	return nil, errReplaced
}

func (l *Locker) open(path string) (File, error) {
	f, err := l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	if err := l.fs.MkdirAll(filepath.Dir(path), lockDirPerm); err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
}

// sameInode reports whether fd and path name the same (dev, ino).
func sameInode(fd int, path string) (bool, error) {
	var held, current unix.Stat_t

	if err := unix.Fstat(fd, &held); err != nil {
		return false, &os.PathError{Op: "fstat", Path: path, Err: err}
	}

	if err := unix.Stat(path, &current); err != nil {
		return false, &os.PathError{Op: "stat", Path: path, Err: err}
	}

	return held.Dev == current.Dev && held.Ino == current.Ino, nil
}

// flockIgnoringEINTR retries flock when a signal interrupts it. The retry
// count is capped so a signal storm cannot spin forever.
func flockIgnoringEINTR(flock func(fd int, how int) error, fd int, how int) error {
	const maxRetries = 10000

	var err error
	for range maxRetries {
		err = flock(fd, how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
