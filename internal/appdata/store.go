package appdata

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/calvinalkan/envcache/internal/fs"
	"github.com/calvinalkan/envcache/internal/lock"
)

// Document is one cached JSON object.
type Document = map[string]any

// ContentStore is a keyed JSON document living in a lock-protected folder.
//
// Exists and Read take no lock and may race with a concurrent writer; a stale
// miss only costs a recomputation. Sequences that must read and then write
// atomically run inside Locked.
type ContentStore interface {
	// Key is the file stem of the document.
	Key() string

	// Label is a human-readable description used in logs.
	Label() string

	// File is the absolute path of the backing file.
	File() string

	// Exists reports whether the backing file is present.
	Exists() bool

	// Read returns the document, or nil when it is missing or unreadable.
	// A document that is not valid JSON is deleted.
	Read() (Document, error)

	// Write replaces the document.
	Write(doc Document) error

	// Remove deletes the backing file. A missing file is an error that
	// satisfies errors.Is(err, fs.ErrNotExist).
	Remove() error

	// Locked runs fn while holding this key's lock in the owning folder.
	Locked(fn func() error) error
}

const (
	docPerm    = 0o644
	folderPerm = 0o755
	jsonExt    = ".json"
)

// JSONStore is the file-backed [ContentStore] at <folder>/<key>.json.
type JSONStore struct {
	fs     fs.FS
	folder lock.PathLock
	key    string
	label  string
}

// NewJSONStore returns a store for key inside folder.
func NewJSONStore(fsys fs.FS, folder lock.PathLock, key, label string) *JSONStore {
	return &JSONStore{fs: fsys, folder: folder, key: key, label: label}
}

// NewPyInfoStore returns the interpreter-introspection record for
// interpreterPath, keyed by the hex SHA-256 of the path.
func NewPyInfoStore(fsys fs.FS, folder lock.PathLock, interpreterPath string) *JSONStore {
	return NewJSONStore(fsys, folder, PyInfoKey(interpreterPath), "python info of "+interpreterPath)
}

// NewEmbedUpdateStore returns the update-check record for distribution.
func NewEmbedUpdateStore(fsys fs.FS, folder lock.PathLock, distribution string) *JSONStore {
	return NewJSONStore(fsys, folder, distribution, "embed update of distribution "+distribution)
}

// PyInfoKey returns the store key for an interpreter path.
func PyInfoKey(interpreterPath string) string {
	sum := sha256.Sum256([]byte(interpreterPath))

	return hex.EncodeToString(sum[:])
}

func (s *JSONStore) Key() string   { return s.key }
func (s *JSONStore) Label() string { return s.label }

func (s *JSONStore) File() string {
	return filepath.Join(s.folder.Path(), s.key+jsonExt)
}

func (s *JSONStore) Exists() bool {
	ok, err := s.fs.Exists(s.File())

	return err == nil && ok
}

// Read parses the backing file.
//
// A missing file and unreadable files (other than permission failures) are
// cache misses. Malformed JSON is removed on the spot; losing that removal
// to a concurrent process is fine. Permission errors are returned, since
// they will not heal by recomputing the entry.
func (s *JSONStore) Read() (Document, error) {
	file := s.File()

	data, err := s.fs.ReadFile(file)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil, nil
		case errors.Is(err, os.ErrPermission):
			return nil, fmt.Errorf("read %s: %w", s.label, err)
		default:
			log.Debug("could not read cache entry", "what", s.label, "file", file, "error", err)

			return nil, nil
		}
	}

	var doc Document

	if err := json.Unmarshal(data, &doc); err != nil {
		log.Debug("removing corrupt cache entry", "what", s.label, "file", file, "error", err)

		if rmErr := s.fs.Remove(file); rmErr != nil {
			log.Debug("corrupt cache entry already gone", "file", file, "error", rmErr)
		}

		return nil, nil
	}

	log.Debug("got "+s.label, "file", file)

	return doc, nil
}

// Write encodes doc with sorted keys and two-space indentation and swaps it
// in atomically, so identical documents produce identical bytes.
func (s *JSONStore) Write(doc Document) error {
	file := s.File()

	data, err := encodeDocument(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.label, err)
	}

	if err := s.fs.MkdirAll(filepath.Dir(file), folderPerm); err != nil {
		return fmt.Errorf("create folder for %s: %w", s.label, err)
	}

	if err := s.fs.WriteFileAtomic(file, data, docPerm); err != nil {
		return fmt.Errorf("write %s: %w", s.label, err)
	}

	log.Debug("wrote "+s.label, "file", file)

	return nil
}

func (s *JSONStore) Remove() error {
	file := s.File()

	if err := s.fs.Remove(file); err != nil {
		return fmt.Errorf("remove %s: %w", s.label, err)
	}

	log.Debug("removed "+s.label, "file", file)

	return nil
}

func (s *JSONStore) Locked(fn func() error) error {
	return lock.WithKeyLock(s.folder, s.key, false, fn)
}

// encodeDocument renders doc the same way every time: map keys sorted by
// encoding/json, two-space indent, no HTML escaping, no trailing newline.
func encodeDocument(doc Document) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	if err := enc.Encode(doc); err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// readOnlyStore rejects mutations of the wrapped store.
type readOnlyStore struct {
	*JSONStore
}

func (s readOnlyStore) Write(Document) error {
	return fmt.Errorf("write %s: %w", s.label, ErrReadOnly)
}

func (s readOnlyStore) Remove() error {
	return fmt.Errorf("remove %s: %w", s.label, ErrReadOnly)
}

// Compile-time interface checks.
var (
	_ ContentStore = (*JSONStore)(nil)
	_ ContentStore = readOnlyStore{}
)
