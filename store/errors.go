package store

import "errors"

// Sentinel errors returned by store implementations. Callers should match
// with errors.Is since backends wrap these with driver context.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists indicates a unique constraint was violated.
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict indicates a versioned mutation carried a stale version.
	// The caller should re-read the record and retry.
	ErrConflict = errors.New("store: version conflict")

	// ErrInvalidID indicates a malformed or empty identifier.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrInvalidData indicates the supplied record fails validation.
	ErrInvalidData = errors.New("store: invalid data")

	// ErrInvalidFilter indicates an unsupported filter field or operator.
	ErrInvalidFilter = errors.New("store: invalid filter")

	// ErrInvalidFolder indicates an unknown folder id.
	ErrInvalidFolder = errors.New("store: invalid folder")

	// ErrSystemFolder indicates an attempt to rename or delete a system folder.
	ErrSystemFolder = errors.New("store: system folder is protected")

	// ErrFolderNotEmpty indicates an attempt to delete a folder that still
	// contains messages.
	ErrFolderNotEmpty = errors.New("store: folder not empty")

	// ErrNotConnected indicates the store has not been connected or was closed.
	ErrNotConnected = errors.New("store: not connected")
)
