package cli

import "errors"

// Error variables for command handling.
var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrArgRequired     = errors.New("argument required")
	ErrTooManyArgs     = errors.New("too many arguments")
	ErrFlagRequired    = errors.New("flag required")
	ErrNotCached       = errors.New("not cached")
	ErrInvalidDocument = errors.New("document must be a JSON object")
	ErrConflictingFlag = errors.New("conflicting flags")
)
