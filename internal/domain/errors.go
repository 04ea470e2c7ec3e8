package domain

import "errors"

// Sentinel errors. Every per-item failure maps to exactly one of these so
// callers and the API can report a taxonomy kind plus a short human
// message, never raw error text alone.

var (
	// Local file errors, terminal for the item.
	ErrIO            = errors.New("model file could not be read")
	ErrTruncatedRead = errors.New("model file read returned fewer bytes than its reported size")

	// Catalog errors.
	ErrTransient = errors.New("catalog temporarily unavailable")
	ErrPermanent = errors.New("catalog rejected the request")
	ErrNotFound  = errors.New("hash not known to the catalog")

	// Sidecar errors.
	ErrSidecarMissing        = errors.New("no sidecar record for model")
	ErrSidecarRootUnwritable = errors.New("sidecar location is not writable")

	// Run errors.
	ErrRunCancelled = errors.New("sync run cancelled")
)

// ErrorKind labels an error with its taxonomy bucket for reports and metrics.
type ErrorKind string

const (
	KindIO        ErrorKind = "io"
	KindTruncated ErrorKind = "truncated_read"
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
	KindNotFound  ErrorKind = "not_found"
	KindCancelled ErrorKind = "cancelled"
	KindNone      ErrorKind = ""
)

// Kind classifies err into the error taxonomy. Unknown errors are treated
// as I/O failures since they came from the local side of the system.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTruncatedRead):
		return KindTruncated
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrRunCancelled):
		return KindCancelled
	default:
		return KindIO
	}
}

// Retryable reports whether an error is worth another resolve attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
