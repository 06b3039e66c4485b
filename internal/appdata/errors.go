package appdata

import "errors"

// Sentinel errors returned by app data operations.
//
// Callers should use [errors.Is] to check error types.
var (
	// ErrNotSupported indicates the operation is not available for this kind
	// of app data, e.g. update-log tracking on an ephemeral folder.
	ErrNotSupported = errors.New("not supported by this app data")

	// ErrReadOnly indicates a write against read-only app data.
	ErrReadOnly = errors.New("app data is read-only")

	// ErrUnsafeArchivePath indicates an archive entry that would be written
	// outside the extraction directory.
	ErrUnsafeArchivePath = errors.New("unsafe archive entry path")

	// ErrArchiveEntryTooLarge indicates an archive entry above the
	// decompressed size limit.
	ErrArchiveEntryTooLarge = errors.New("archive entry too large")
)
