package lock

import "errors"

// WithLock runs handler while holding pl's whole-directory lock.
// The lock is released on every exit path, including panics.
func WithLock(pl PathLock, handler func() error) (err error) {
	if err := pl.Lock(); err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, pl.Unlock())
	}()

	return handler()
}

// WithKeyLock runs handler while holding the lock for key under pl.
// With noBlock it fails with [ErrLockTimeout] instead of waiting.
func WithKeyLock(pl PathLock, key string, noBlock bool, handler func() error) (err error) {
	release, err := pl.LockForKey(key, noBlock)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, release())
	}()

	return handler()
}

// WithNonReentrantKeyLock runs handler while holding a private,
// non-reentrant lock for key under pl.
func WithNonReentrantKeyLock(pl PathLock, key string, handler func() error) (err error) {
	release, err := pl.NonReentrantLockForKey(key)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, release())
	}()

	return handler()
}
