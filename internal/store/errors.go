package store

import "errors"

// Sentinel errors let callers translate storage failures into their own
// taxonomy without parsing SQL error text.
var (
	ErrNotFound    = errors.New("not found")
	ErrHeadVersion = errors.New("version is the current head")
	ErrOnlyVersion = errors.New("version is the only one remaining")
	ErrDuplicate   = errors.New("already exists")
)
