package memvec

import (
	"errors"
	"fmt"
)

// Error taxonomy (spec §7). These are kinds, not a single type hierarchy:
// most are sentinel values wrapped with context via fmt.Errorf("...: %w"),
// except SchemaMismatchError, which carries the conflicting dimensions, and
// ProtocolError, which carries an HTTP status and body.

var (
	// ErrBackendUnavailable wraps a network/transport failure reaching the
	// embedder, LLM, or vector store.
	ErrBackendUnavailable = errors.New("memnet: backend unavailable")

	// ErrProtocol wraps a non-2xx response or malformed response body from
	// a remote backend.
	ErrProtocol = errors.New("memnet: protocol error")

	// ErrNotFound names the NotFoundError kind (spec §7). Backends and the
	// service do not return it: a missing id is reported as a nil item or
	// a false result instead.
	ErrNotFound = errors.New("memnet: not found")

	// ErrValidation wraps an empty message list, zero-length embedding, or
	// an id collision on insert against a strict backend.
	ErrValidation = errors.New("memnet: validation error")
)

// SchemaMismatchError reports that a collection already exists with a
// different declared dimension and recreation was not requested.
type SchemaMismatchError struct {
	Collection string
	Existing   int
	Requested  int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("memnet: collection %q declares dimension %d, requested %d without allowRecreation", e.Collection, e.Existing, e.Requested)
}

// ProtocolError carries the HTTP status and body of a non-2xx response
// from a wire vector-store backend (spec §4.3.2 point 5).
type ProtocolError struct {
	Status int
	Body   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("memnet: protocol error: status %d: %s", e.Status, e.Body)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }
