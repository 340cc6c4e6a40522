// Package rumbaerr defines the typed error taxonomy shared across rumba's
// backup pipeline. Every layer wraps the underlying cause with fmt.Errorf's
// %w the way the rest of this codebase does, but callers at the edges (the
// CLI, the pipeline's top-level handler) need a stable machine-checkable
// kind to branch on, which plain wrapped errors don't give them.
package rumbaerr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of failure a Error represents.
type Kind string

const (
	ConfigInvalid    Kind = "CONFIG_INVALID"
	ScanIO           Kind = "SCAN_IO"
	StatFailed       Kind = "STAT_FAILED"
	HashIO           Kind = "HASH_IO"
	CatalogIO        Kind = "CATALOG_IO"
	CatalogCorrupt   Kind = "CATALOG_CORRUPT"
	CatalogConflict  Kind = "CATALOG_CONFLICT"
	TapeIO           Kind = "TAPE_IO"
	TapeRemoteFailed Kind = "TAPE_REMOTE_FAILED"
	Internal         Kind = "INTERNAL"
)

// Error is a typed error carrying a Kind, the operation that failed, and
// the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a Kind and the name of the failing operation. If err
// is nil, New returns nil so call sites can write:
//
//	if err := rumbaerr.New(OpKind, "op", underlying); err != nil { return err }
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or any error in its chain) carries the given
// Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it (or any error in its chain) is a
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
