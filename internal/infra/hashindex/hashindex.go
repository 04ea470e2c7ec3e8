// Package hashindex computes content fingerprints for local model files.
// A fingerprint is the SHA-256 of the file's bytes, memoized by
// (path, size, mtime) so unchanged files are never reread. The memo table
// is persisted in SQLite so hashes survive restarts; hashing a multi-GB
// checkpoint is the most expensive thing this system does.
package hashindex

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/civisync/civisync/internal/domain"
	"github.com/civisync/civisync/internal/infra/metrics"
	"github.com/civisync/civisync/internal/infra/sqlite"
)

// hashBufSize is the read buffer for full-file hashing.
const hashBufSize = 1 << 20 // 1 MiB

type memoKey struct {
	path    string
	size    int64
	mtimeNS int64
}

// Index memoizes content hashes. Safe for concurrent use; the mutex guards
// only the in-memory table, never a file read, so workers hash in parallel.
type Index struct {
	mu  sync.Mutex
	mem map[memoKey]domain.ContentHash
	db  *sqlite.DB // Persistent layer; nil means in-memory only (tests)
}

// New creates an Index backed by db. db may be nil.
func New(db *sqlite.DB) *Index {
	return &Index{
		mem: make(map[memoKey]domain.ContentHash),
		db:  db,
	}
}

// Fingerprint returns the SHA-256 content hash for the file at path.
//
// Cache invalidation is by (size, mtime): any change in either forces a
// recomputation. A file rewritten within mtime granularity with the same
// size would be served stale; accepted risk, the WebUI tooling this
// format comes from makes the same trade.
func (ix *Index) Fingerprint(path string) (domain.ContentHash, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %v: %w", path, err, domain.ErrIO)
	}
	size := info.Size()
	mtimeNS := info.ModTime().UnixNano()
	key := memoKey{path: path, size: size, mtimeNS: mtimeNS}

	if h, ok := ix.lookup(key); ok {
		metrics.HashCacheHits.Inc()
		return h, nil
	}
	metrics.HashCacheMisses.Inc()

	start := time.Now()
	h, err := hashFile(path, size)
	if err != nil {
		return "", err
	}
	metrics.HashLatency.Observe(time.Since(start).Seconds())

	ix.store(key, h)
	return h, nil
}

// Forget drops any cached hash for path, forcing the next Fingerprint to
// reread the file. Used by sync --recalculate-hash.
func (ix *Index) Forget(path string) {
	ix.mu.Lock()
	for k := range ix.mem {
		if k.path == path {
			delete(ix.mem, k)
		}
	}
	ix.mu.Unlock()

	if ix.db != nil {
		_ = ix.db.ForgetHash(path)
	}
}

func (ix *Index) lookup(key memoKey) (domain.ContentHash, bool) {
	ix.mu.Lock()
	h, ok := ix.mem[key]
	ix.mu.Unlock()
	if ok {
		return h, true
	}

	if ix.db == nil {
		return "", false
	}
	stored, err := ix.db.GetHash(key.path, key.size, key.mtimeNS)
	if err != nil || stored == "" {
		return "", false
	}
	h = domain.ContentHash(stored)
	ix.mu.Lock()
	ix.mem[key] = h
	ix.mu.Unlock()
	return h, true
}

func (ix *Index) store(key memoKey, h domain.ContentHash) {
	ix.mu.Lock()
	ix.mem[key] = h
	ix.mu.Unlock()

	if ix.db != nil {
		// Best effort; a failed cache write just means a rehash later.
		_ = ix.db.PutHash(key.path, key.size, key.mtimeNS, h.String())
	}
}

// hashFile reads the whole file and returns its SHA-256. statSize is the
// size reported by stat before the read began; reading fewer bytes than
// that is a truncated read, not silently a different hash.
func hashFile(path string, statSize int64) (domain.ContentHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %v: %w", path, err, domain.ErrIO)
	}
	defer f.Close()

	sum := sha256.New()
	n, err := io.CopyBuffer(sum, f, make([]byte, hashBufSize))
	if err != nil {
		return "", fmt.Errorf("read %s: %v: %w", path, err, domain.ErrIO)
	}
	if n < statSize {
		return "", fmt.Errorf("read %s: got %d of %d bytes: %w", path, n, statSize, domain.ErrTruncatedRead)
	}

	return domain.ContentHash(hex.EncodeToString(sum.Sum(nil))), nil
}
