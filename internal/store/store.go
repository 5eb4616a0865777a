// Package store defines the document store adapter consumed by discovery and
// extraction, and the retry policy applied to every concrete store.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Entry is one child of a container as reported by the store.
type Entry struct {
	ID          string
	Name        string
	IsContainer bool
	Extension   string
	Size        int64
	ModifiedAt  time.Time
}

// Store lists containers and fetches document bytes.
type Store interface {
	List(ctx context.Context, containerID string) ([]Entry, error)
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// Error wraps a store failure with the transient/permanent distinction.
type Error struct {
	Op        string
	ID        string
	Temporary bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Temporary {
		kind = "transient"
	}
	return fmt.Sprintf("%s %q (%s): %v", e.Op, e.ID, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable store failure.
func Transient(op, id string, err error) error {
	return &Error{Op: op, ID: id, Temporary: true, Err: err}
}

// Permanent wraps err as a store failure that must not be retried.
func Permanent(op, id string, err error) error {
	return &Error{Op: op, ID: id, Err: err}
}

// FromStatus classifies an HTTP status code returned by a remote store.
func FromStatus(op, id string, code int, err error) error {
	if TemporaryStatus(code) {
		return Transient(op, id, err)
	}
	return Permanent(op, id, err)
}

// TemporaryStatus reports whether an HTTP status is worth retrying.
func TemporaryStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= http.StatusInternalServerError
}

// IsTemporary reports whether err is a transient store failure.
func IsTemporary(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Temporary
	}
	return false
}
