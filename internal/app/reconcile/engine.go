// Package reconcile drives the metadata synchronization run: it takes the
// discovered model inventory, fingerprints each file, resolves the hash
// against the catalog, and persists the result to the model's sidecar.
//
// Each item walks a sequential state machine:
//
//	Discovered -> Hashing -> Resolving -> {Updated, Unchanged, NotFound, Failed}
//
// Items are processed by a bounded worker pool; the run summary is merged
// commutatively, so no ordering between items is guaranteed or needed.
package reconcile

import (
	"context"
	"errors"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/civisync/civisync/internal/domain"
	"github.com/civisync/civisync/internal/infra/catalog"
	"github.com/civisync/civisync/internal/infra/metrics"
)

// Config tunes a reconciliation run.
type Config struct {
	Workers     int           // Worker pool width
	MaxAttempts int           // Resolve attempts per item on transient errors
	BaseDelay   time.Duration // First backoff delay; doubles per attempt
	MaxDelay    time.Duration // Backoff cap
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// SidecarStore is the persistence surface the engine needs: record I/O
// plus a writability probe for the up-front catastrophic check.
type SidecarStore interface {
	domain.SidecarIO
	Probe(dir string) error
}

// Engine reconciles a local inventory against the catalog.
type Engine struct {
	cfg      Config
	hashes   domain.Fingerprinter
	resolver domain.Resolver
	sidecars SidecarStore
	events   func(domain.Event) // Optional; one event per state transition

	// Per-run resolve cache: duplicate content at different paths hits
	// the catalog once but still gets its own sidecar write per path.
	cacheMu sync.Mutex
	cache   map[domain.ContentHash]cached

	// backoffHook observes computed backoff delays. Tests only.
	backoffHook func(attempt int, delay time.Duration)
}

type cached struct {
	rec      *domain.CatalogRecord
	notFound bool
}

// New creates an Engine. events may be nil.
func New(cfg Config, hashes domain.Fingerprinter, resolver domain.Resolver, sidecars SidecarStore, events func(domain.Event)) *Engine {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &Engine{
		cfg:      cfg,
		hashes:   hashes,
		resolver: resolver,
		sidecars: sidecars,
		events:   events,
	}
}

// Run processes files as one logical run and returns the summary. Per-item
// errors never abort the run; they are captured in the item reports.
//
// Cancellation via ctx lets in-flight items finish their current state
// transition (a started hash or sidecar write completes) but starts no new
// items; unstarted items are reported Failed with kind "cancelled".
func (e *Engine) Run(ctx context.Context, files []domain.ModelFile) domain.RunSummary {
	run := domain.RunSummary{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
	}
	e.cacheMu.Lock()
	e.cache = make(map[domain.ContentHash]cached)
	e.cacheMu.Unlock()

	// Catastrophic check: every sidecar directory must accept writes.
	// One unwritable location fails the run once, not item by item.
	if err := e.probeDirs(files); err != nil {
		run.Fatal = err.Error()
		for _, f := range files {
			run.Absorb(e.fail(run.ID, f, "", 0, domain.ErrSidecarRootUnwritable,
				"sidecar location not writable, item skipped"))
		}
		run.FinishedAt = time.Now()
		return run
	}

	work := make(chan domain.ModelFile)
	reports := make(chan domain.ItemReport)

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range work {
				metrics.WorkersActive.Inc()
				reports <- e.processItem(ctx, run.ID, f)
				metrics.WorkersActive.Dec()
			}
		}()
	}

	var feedWG sync.WaitGroup
	feedWG.Add(1)
	go func() {
		defer feedWG.Done()
		defer close(work)
		for i := 0; i < len(files); i++ {
			select {
			case work <- files[i]:
			case <-ctx.Done():
				// No new items start after cancellation.
				for _, rest := range files[i:] {
					reports <- e.fail(run.ID, rest, "", 0, domain.ErrRunCancelled,
						"run cancelled before item started")
				}
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		feedWG.Wait()
		close(reports)
	}()

	for rep := range reports {
		run.Absorb(rep)
		metrics.ItemsFinished.WithLabelValues(rep.State.String()).Inc()
		if rep.State == domain.StateFailed {
			metrics.ItemsFailed.WithLabelValues(string(rep.Kind)).Inc()
		}
	}

	run.FinishedAt = time.Now()
	metrics.RunsTotal.Inc()
	log.Printf("[reconcile] run %s: %d updated, %d unchanged, %d notfound, %d failed (%d total) in %s",
		run.ID, run.Updated, run.Unchanged, run.NotFound, run.Failed, run.Total,
		run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	return run
}

// processItem drives one file through the full state machine. All state
// transitions within the item are strictly sequential.
func (e *Engine) processItem(ctx context.Context, runID string, f domain.ModelFile) domain.ItemReport {
	e.emit(runID, f.Path, domain.StateDiscovered, 0, "")

	// Hashing. A started hash is never aborted mid-read; cancellation is
	// observed only between transitions.
	e.emit(runID, f.Path, domain.StateHashing, 0, "")
	hash, err := e.hashes.Fingerprint(f.Path)
	if err != nil {
		return e.fail(runID, f, "", 0, err, "could not fingerprint model file")
	}

	if ctx.Err() != nil {
		return e.fail(runID, f, hash, 0, domain.ErrRunCancelled, "run cancelled")
	}

	// Resolving, with retry on transient errors. Backoff doubles from
	// BaseDelay up to MaxDelay; a server Retry-After wins when larger.
	var rec *domain.CatalogRecord
	attempt := 0
	for {
		attempt++
		e.emit(runID, f.Path, domain.StateResolving, attempt, "")

		rec, err = e.resolveCached(ctx, hash)
		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrNotFound) {
			rep := domain.ItemReport{File: f, Hash: hash, State: domain.StateNotFound, Attempts: attempt,
				Message: "hash not known to the catalog"}
			e.emit(runID, f.Path, domain.StateNotFound, attempt, rep.Message)
			return rep
		}
		if ctx.Err() != nil {
			return e.fail(runID, f, hash, attempt, domain.ErrRunCancelled, "run cancelled during resolve")
		}
		if !domain.Retryable(err) {
			return e.fail(runID, f, hash, attempt, err, "catalog rejected the lookup")
		}
		if attempt >= e.cfg.MaxAttempts {
			return e.fail(runID, f, hash, attempt, err, "catalog unavailable after retries")
		}

		delay := e.backoff(attempt)
		if ra, ok := catalog.RetryAfterOf(err); ok && ra > delay {
			delay = ra
		}
		if e.backoffHook != nil {
			e.backoffHook(attempt, delay)
		}
		metrics.ResolveRetries.Inc()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return e.fail(runID, f, hash, attempt, domain.ErrRunCancelled, "run cancelled during backoff")
		}
	}

	// Merge and persist. The previous sidecar's locally-authored fields
	// survive; identical catalog data means no write at all.
	prev, err := e.sidecars.Read(f.Path)
	if err != nil && !errors.Is(err, domain.ErrSidecarMissing) {
		// A corrupt sidecar is overwritten, not fatal.
		log.Printf("[reconcile] unreadable sidecar for %s, overwriting: %v", f.Base(), err)
		prev = nil
	}

	next := domain.FromCatalog(hash, *rec, prev)
	if prev != nil && prev.Equivalent(next) {
		rep := domain.ItemReport{File: f, Hash: hash, State: domain.StateUnchanged, Attempts: attempt}
		e.emit(runID, f.Path, domain.StateUnchanged, attempt, "")
		return rep
	}

	next.Provenance = domain.Provenance{
		SourceHash: hash.String(),
		LastSync:   time.Now().UTC(),
		Status:     domain.StatusUpdated,
	}
	if err := e.sidecars.Write(f.Path, next); err != nil {
		// Resolution succeeded but persistence did not: the item is Failed.
		return e.fail(runID, f, hash, attempt, err, "could not write sidecar record")
	}

	rep := domain.ItemReport{File: f, Hash: hash, State: domain.StateUpdated, Attempts: attempt}
	e.emit(runID, f.Path, domain.StateUpdated, attempt, "")
	return rep
}

// resolveCached serves duplicate hashes from the per-run cache. Only
// definitive answers (a record, or confirmed absence) are cached; failures
// are not, so each path retries independently.
func (e *Engine) resolveCached(ctx context.Context, hash domain.ContentHash) (*domain.CatalogRecord, error) {
	e.cacheMu.Lock()
	c, ok := e.cache[hash]
	e.cacheMu.Unlock()
	if ok {
		if c.notFound {
			return nil, domain.ErrNotFound
		}
		return c.rec, nil
	}

	rec, err := e.resolver.Resolve(ctx, hash)
	if err == nil {
		e.cacheMu.Lock()
		e.cache[hash] = cached{rec: rec}
		e.cacheMu.Unlock()
		return rec, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		e.cacheMu.Lock()
		e.cache[hash] = cached{notFound: true}
		e.cacheMu.Unlock()
	}
	return nil, err
}

// backoff returns the delay before retry number attempt+1.
func (e *Engine) backoff(attempt int) time.Duration {
	delay := e.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= e.cfg.MaxDelay {
			return e.cfg.MaxDelay
		}
	}
	if delay > e.cfg.MaxDelay {
		delay = e.cfg.MaxDelay
	}
	return delay
}

func (e *Engine) fail(runID string, f domain.ModelFile, hash domain.ContentHash, attempts int, err error, msg string) domain.ItemReport {
	rep := domain.ItemReport{
		File:     f,
		Hash:     hash,
		State:    domain.StateFailed,
		Attempts: attempts,
		Kind:     domain.Kind(err),
		Message:  msg,
	}
	e.emit(runID, f.Path, domain.StateFailed, attempts, msg)
	return rep
}

func (e *Engine) emit(runID, path string, state domain.ItemState, attempt int, msg string) {
	if e.events == nil {
		return
	}
	e.events(domain.Event{
		RunID:   runID,
		Path:    path,
		State:   state.String(),
		Attempt: attempt,
		Message: msg,
		Time:    time.Now(),
	})
}

// probeDirs checks every distinct sidecar directory once.
func (e *Engine) probeDirs(files []domain.ModelFile) error {
	seen := make(map[string]bool)
	for _, f := range files {
		dir := filepath.Dir(f.Path)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := e.sidecars.Probe(dir); err != nil {
			return err
		}
	}
	return nil
}
