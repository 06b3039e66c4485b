package fs

import (
	"errors"
	"os"
	"sync"
)

// Op names an [FS] method for error injection.
type Op string

// Injectable operations.
const (
	OpOpen            Op = "open"
	OpOpenFile        Op = "openfile"
	OpReadFile        Op = "readfile"
	OpWriteFileAtomic Op = "writefileatomic"
	OpReadDir         Op = "readdir"
	OpMkdirAll        Op = "mkdirall"
	OpMkdirTemp       Op = "mkdirtemp"
	OpStat            Op = "stat"
	OpRemove          Op = "remove"
	OpRemoveAll       Op = "removeall"
	OpRename          Op = "rename"
)

// InjectedError marks an error as intentionally injected by [Injected].
//
// It wraps the underlying error so errors.Is/As continue to work, for
// example errors.Is(err, os.ErrPermission) for an injected EACCES.
type InjectedError struct {
	Op   Op
	Path string
	Err  error
}

func (e *InjectedError) Error() string {
	return string(e.Op) + " " + e.Path + ": " + e.Err.Error()
}

func (e *InjectedError) Unwrap() error {
	return e.Err
}

// IsInjected reports whether err (or any wrapped error) came from [Injected].
func IsInjected(err error) bool {
	var injected *InjectedError

	return errors.As(err, &injected)
}

// Injected wraps an [FS] and fails selected operations.
//
// Failures are keyed by (operation, path). An empty path matches every path
// for that operation. Calls without a configured failure pass through to the
// wrapped FS.
type Injected struct {
	base FS

	mu    sync.Mutex
	fails map[injectKey]error
	calls map[Op]int
}

type injectKey struct {
	op   Op
	path string
}

// NewInjected wraps base.
func NewInjected(base FS) *Injected {
	return &Injected{
		base:  base,
		fails: make(map[injectKey]error),
		calls: make(map[Op]int),
	}
}

// Fail makes op on path return err until [Injected.Clear] is called.
func (f *Injected) Fail(op Op, path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fails[injectKey{op: op, path: path}] = err
}

// Clear removes all configured failures.
func (f *Injected) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	clear(f.fails)
}

// Calls returns how many times op was invoked, including failed calls.
func (f *Injected) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[op]
}

func (f *Injected) check(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++

	err, ok := f.fails[injectKey{op: op, path: path}]
	if !ok {
		err, ok = f.fails[injectKey{op: op}]
	}

	if !ok {
		return nil
	}

	return &InjectedError{Op: op, Path: path, Err: err}
}

func (f *Injected) Open(path string) (File, error) {
	if err := f.check(OpOpen, path); err != nil {
		return nil, err
	}

	return f.base.Open(path)
}

func (f *Injected) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := f.check(OpOpenFile, path); err != nil {
		return nil, err
	}

	return f.base.OpenFile(path, flag, perm)
}

func (f *Injected) ReadFile(path string) ([]byte, error) {
	if err := f.check(OpReadFile, path); err != nil {
		return nil, err
	}

	return f.base.ReadFile(path)
}

func (f *Injected) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := f.check(OpWriteFileAtomic, path); err != nil {
		return err
	}

	return f.base.WriteFileAtomic(path, data, perm)
}

func (f *Injected) ReadDir(path string) ([]os.DirEntry, error) {
	if err := f.check(OpReadDir, path); err != nil {
		return nil, err
	}

	return f.base.ReadDir(path)
}

func (f *Injected) MkdirAll(path string, perm os.FileMode) error {
	if err := f.check(OpMkdirAll, path); err != nil {
		return err
	}

	return f.base.MkdirAll(path, perm)
}

func (f *Injected) MkdirTemp(dir, pattern string) (string, error) {
	if err := f.check(OpMkdirTemp, dir); err != nil {
		return "", err
	}

	return f.base.MkdirTemp(dir, pattern)
}

func (f *Injected) Stat(path string) (os.FileInfo, error) {
	if err := f.check(OpStat, path); err != nil {
		return nil, err
	}

	return f.base.Stat(path)
}

// Exists is routed through the [OpStat] failure configuration.
func (f *Injected) Exists(path string) (bool, error) {
	if err := f.check(OpStat, path); err != nil {
		return false, err
	}

	return f.base.Exists(path)
}

func (f *Injected) Remove(path string) error {
	if err := f.check(OpRemove, path); err != nil {
		return err
	}

	return f.base.Remove(path)
}

func (f *Injected) RemoveAll(path string) error {
	if err := f.check(OpRemoveAll, path); err != nil {
		return err
	}

	return f.base.RemoveAll(path)
}

func (f *Injected) Rename(oldpath, newpath string) error {
	if err := f.check(OpRename, oldpath); err != nil {
		return err
	}

	return f.base.Rename(oldpath, newpath)
}

// Compile-time interface check.
var _ FS = (*Injected)(nil)
