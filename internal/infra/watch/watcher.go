// Package watch triggers reconciliation runs when model directories change
// on disk. Events are debounced: a batch of file operations (a download
// finishing, a bulk move) produces one trigger, not one per write.
package watch

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/civisync/civisync/internal/infra/scan"
)

// DefaultDebounce is the quiet period required before a trigger fires.
const DefaultDebounce = 3 * time.Second

// Watcher observes model directories and fires a callback after changes
// settle.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	trigger  func()
}

// New creates a Watcher over dirs. Non-existent dirs are skipped with a
// log line. trigger runs on the watcher goroutine; keep it cheap (signal a
// channel, enqueue a run).
func New(dirs []string, debounce time.Duration, trigger func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			log.Printf("[watch] cannot watch %s: %v", dir, err)
		}
	}

	return &Watcher{fsw: fsw, debounce: debounce, trigger: trigger}, nil
}

// Start consumes filesystem events until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(ev) {
				continue
			}
			log.Printf("[watch] %s %s", ev.Op, ev.Name)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[watch] error: %v", err)

		case <-fire:
			timer = nil
			fire = nil
			w.trigger()
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }

// relevant filters events down to model-file create/write/rename/remove.
// Sidecar writes are ignored; reacting to our own output would loop.
func relevant(ev fsnotify.Event) bool {
	if !scan.IsModelFile(ev.Name) {
		return false
	}
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0
}
