package domain

import "context"

// Fingerprinter computes content hashes for local model files.
// Implementations memoize by (path, size, mtime).
type Fingerprinter interface {
	Fingerprint(path string) (ContentHash, error)
}

// Resolver looks a content hash up in the remote catalog.
// Returns ErrNotFound on confirmed absence, ErrTransient on retryable
// conditions, ErrPermanent on everything else the server rejects.
type Resolver interface {
	Resolve(ctx context.Context, hash ContentHash) (*CatalogRecord, error)
}

// SidecarIO reads and writes per-model sidecar records.
// Write is an atomic replace: a concurrent reader sees either the old or
// the new complete record, never a partial one.
type SidecarIO interface {
	Read(modelPath string) (*SidecarRecord, error)
	Write(modelPath string, rec SidecarRecord) error
}
