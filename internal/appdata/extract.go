package appdata

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"

	"github.com/calvinalkan/envcache/internal/fs"
)

// Extractor materializes archive at dest. dest does not exist when it is
// called and must exist when it returns nil.
type Extractor func(fsys fs.FS, archive, dest string) error

// MaxEntrySize caps the decompressed size of a single extracted file.
const MaxEntrySize = 1 << 30

const (
	extractDirPerm  = 0o755
	extractFilePerm = 0o644
	zstdExt         = ".zst"
)

// extractions collapses concurrent extractions of the same destination.
// Key locks are reentrant across the process, so goroutines do not exclude
// each other there.
var extractions singleflight.Group

// extractOnce runs extractor unless dest already exists.
func extractOnce(fsys fs.FS, extractor Extractor, archive, dest string) error {
	_, err, _ := extractions.Do(dest, func() (any, error) {
		if ok, _ := fsys.Exists(dest); ok {
			return nil, nil
		}

		log.Debug("extracting archive", "archive", archive, "dest", dest)

		if err := extractor(fsys, archive, dest); err != nil {
			return nil, fmt.Errorf("extract %s: %w", archive, err)
		}

		return nil, nil
	})

	return err
}

// Unzip is the default [Extractor].
//
// Zip archives are unpacked into a staging directory next to dest which is
// then renamed into place, so a crash never leaves a half-written dest.
// Entries must stay inside dest and below [MaxEntrySize]. A ".zst" file is
// decompressed to a single file; anything else is copied as is.
func Unzip(fsys fs.FS, archive, dest string) error {
	parent := filepath.Dir(dest)

	if err := fsys.MkdirAll(parent, extractDirPerm); err != nil {
		return fmt.Errorf("create %s: %w", parent, err)
	}

	reader, err := zip.OpenReader(archive)
	if errors.Is(err, zip.ErrFormat) {
		return extractSingle(fsys, archive, dest)
	}

	// A reader returned alongside an error flags insecure entry names;
	// those are rejected per entry below.
	if reader == nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() { _ = reader.Close() }()

	staging, err := fsys.MkdirTemp(parent, "."+filepath.Base(dest)+".tmp-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	defer func() { _ = fsys.RemoveAll(staging) }()

	for _, entry := range reader.File {
		if err := unzipEntry(fsys, staging, entry); err != nil {
			return err
		}
	}

	return moveIntoPlace(fsys, staging, dest)
}

func unzipEntry(fsys fs.FS, staging string, entry *zip.File) error {
	name := filepath.FromSlash(entry.Name)

	if !filepath.IsLocal(name) {
		return fmt.Errorf("%w: %q", ErrUnsafeArchivePath, entry.Name)
	}

	mode := entry.Mode()
	target := filepath.Join(staging, name)

	switch {
	case mode.IsDir():
		return fsys.MkdirAll(target, extractDirPerm)
	case mode&os.ModeSymlink != 0:
		return fmt.Errorf("%w: symlink %q", ErrUnsafeArchivePath, entry.Name)
	case entry.UncompressedSize64 > MaxEntrySize:
		return fmt.Errorf("%w: %q is %d bytes", ErrArchiveEntryTooLarge, entry.Name, entry.UncompressedSize64)
	}

	if err := fsys.MkdirAll(filepath.Dir(target), extractDirPerm); err != nil {
		return err
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open entry %q: %w", entry.Name, err)
	}

	defer func() { _ = src.Close() }()

	perm := mode.Perm()
	if perm == 0 {
		perm = extractFilePerm
	}

	return writeLimited(fsys, target, src, perm, entry.Name)
}

// extractSingle places one non-zip file at dest.
func extractSingle(fsys fs.FS, archive, dest string) error {
	src, err := fsys.Open(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() { _ = src.Close() }()

	var payload io.Reader = src

	if strings.HasSuffix(archive, zstdExt) {
		decoder, err := zstd.NewReader(src)
		if err != nil {
			return fmt.Errorf("zstd reader: %w", err)
		}

		defer decoder.Close()

		payload = decoder
	}

	staging := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp")

	if err := writeLimited(fsys, staging, payload, extractFilePerm, filepath.Base(archive)); err != nil {
		_ = fsys.Remove(staging)

		return err
	}

	err = moveIntoPlace(fsys, staging, dest)
	if err != nil {
		_ = fsys.Remove(staging)
	}

	return err
}

func writeLimited(fsys fs.FS, target string, src io.Reader, perm os.FileMode, name string) error {
	dst, err := fsys.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	n, copyErr := io.Copy(dst, io.LimitReader(src, MaxEntrySize+1))
	closeErr := dst.Close()

	switch {
	case copyErr != nil:
		return fmt.Errorf("write %s: %w", target, copyErr)
	case n > MaxEntrySize:
		return fmt.Errorf("%w: %q", ErrArchiveEntryTooLarge, name)
	case closeErr != nil:
		return fmt.Errorf("close %s: %w", target, closeErr)
	}

	return nil
}

// moveIntoPlace renames staging to dest. Another process winning the race
// leaves dest in place, which counts as success.
func moveIntoPlace(fsys fs.FS, staging, dest string) error {
	err := fsys.Rename(staging, dest)
	if err == nil {
		return nil
	}

	if ok, _ := fsys.Exists(dest); ok {
		log.Debug("archive extracted concurrently", "dest", dest)

		return nil
	}

	return fmt.Errorf("move into place: %w", err)
}
