// Package errtypes defines the error taxonomy shared across the sync engine
// and the propagation rules that decide which retry policy, if any, applies.
package errtypes

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry/propagation decisions.
type Kind int

// Error kinds, per the taxonomy.
const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthentication
	KindConflict
	KindNotFound
	KindIntegrity
	KindConnectivity
	KindTransient
	KindCancelled
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindIntegrity:
		return "integrity"
	case KindConnectivity:
		return "connectivity"
	case KindTransient:
		return "transient"
	case KindCancelled:
		return "cancelled"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors. Use errors.Is to classify wrapped errors.
var (
	ErrValidation     = errors.New("syncengine: validation error")
	ErrAuthentication = errors.New("syncengine: authentication error")
	ErrConflict       = errors.New("syncengine: conflict")
	ErrNotFound       = errors.New("syncengine: not found")
	ErrIntegrity      = errors.New("syncengine: integrity failure")
	ErrConnectivity   = errors.New("syncengine: connectivity error")
	ErrTransient      = errors.New("syncengine: transient error")
	ErrCancelled      = errors.New("syncengine: cancelled")
	ErrFatal          = errors.New("syncengine: fatal error")
)

// SyncError wraps a sentinel error with a human-readable reason and
// optional path context, mirroring the teacher's GraphError/classifyStatus
// shape (internal/graph/errors.go in the reference onedrive-go client).
type SyncError struct {
	Kind   Kind
	Path   string
	Reason string
	Err    error // sentinel, for errors.Is

	// CurrentVersion carries the server's reported current_version from a
	// 409 conflict response body, when the caller attached one via
	// WithCurrentVersion. Nil unless Kind is KindConflict and the response
	// body parsed cleanly.
	CurrentVersion *int64
}

// WithCurrentVersion attaches the server's reported current_version to a
// *SyncError built by Wrap/New, for conflict responses that report one.
func (e *SyncError) WithCurrentVersion(v int64) *SyncError {
	e.CurrentVersion = &v
	return e
}

func (e *SyncError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("syncengine: %s (%s): %s", e.Kind, e.Path, e.Reason)
	}

	return fmt.Sprintf("syncengine: %s: %s", e.Kind, e.Reason)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// New builds a *SyncError for the given kind.
func New(kind Kind, path, reason string) *SyncError {
	return &SyncError{Kind: kind, Path: path, Reason: reason, Err: sentinelFor(kind)}
}

// Wrap builds a *SyncError around an existing error.
func Wrap(kind Kind, path string, err error) *SyncError {
	return &SyncError{Kind: kind, Path: path, Reason: err.Error(), Err: sentinelFor(kind)}
}

func sentinelFor(kind Kind) error {
	switch kind {
	case KindValidation:
		return ErrValidation
	case KindAuthentication:
		return ErrAuthentication
	case KindConflict:
		return ErrConflict
	case KindNotFound:
		return ErrNotFound
	case KindIntegrity:
		return ErrIntegrity
	case KindConnectivity:
		return ErrConnectivity
	case KindTransient:
		return ErrTransient
	case KindCancelled:
		return ErrCancelled
	case KindFatal:
		return ErrFatal
	default:
		return nil
	}
}

// Classify returns the Kind of err, walking the error chain for a *SyncError
// or a recognized sentinel. Unrecognized errors return KindUnknown.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}

	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, ErrConnectivity):
		return KindConnectivity
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrFatal):
		return KindFatal
	default:
		return KindUnknown
	}
}

// ClassifyHTTPStatus maps an HTTP status code to a Kind, following the
// teacher's classifyStatus switch (internal/graph/errors.go).
func ClassifyHTTPStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuthentication
	case code == http.StatusNotFound || code == http.StatusGone:
		return KindNotFound
	case code == http.StatusConflict:
		return KindConflict
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return KindValidation
	case code == http.StatusTooManyRequests:
		return KindTransient
	case code >= http.StatusInternalServerError:
		return KindTransient
	case code >= 200 && code < 300:
		return KindUnknown
	default:
		return KindUnknown
	}
}

// Retryable reports whether a retry loop (of either flavor) should ever be
// attempted for this kind. Validation/Authentication/Fatal/Cancelled never
// retry; Conflict is handled by the conflict resolver, not a retry loop.
func Retryable(kind Kind) bool {
	switch kind {
	case KindConnectivity, KindTransient:
		return true
	default:
		return false
	}
}
