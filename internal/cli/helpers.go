package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/civisync/civisync/internal/daemon"
	"github.com/civisync/civisync/internal/domain"
)

// subscribeProgress prints engine transitions as they happen. Returns an
// unsubscribe func.
func subscribeProgress(d *daemon.Daemon) func() {
	ch, cancel := d.Hub.Subscribe()
	quit := make(chan struct{})

	go func() {
		for {
			select {
			case <-quit:
				return
			case ev := <-ch:
				printEvent(ev)
			}
		}
	}()

	return func() {
		cancel()
		close(quit)
	}
}

func printEvent(ev domain.Event) {
	switch ev.State {
	case "discovered", "hashing":
		// Quiet states; the interesting ones are resolve + terminal.
	case "resolving":
		if ev.Attempt > 1 {
			fmt.Printf("  %s: retrying (attempt %d)\n", filepath.Base(ev.Path), ev.Attempt)
		}
	default:
		line := fmt.Sprintf("  %s: %s", filepath.Base(ev.Path), ev.State)
		if ev.Message != "" {
			line += " (" + ev.Message + ")"
		}
		fmt.Println(line)
	}
}

// printSummary writes the run-level outcome counts.
func printSummary(w io.Writer, run domain.RunSummary) {
	fmt.Fprintf(w, "Run %s\n", run.ID)
	fmt.Fprintf(w, "  updated:   %d\n", run.Updated)
	fmt.Fprintf(w, "  unchanged: %d\n", run.Unchanged)
	fmt.Fprintf(w, "  not found: %d\n", run.NotFound)
	fmt.Fprintf(w, "  failed:    %d\n", run.Failed)
	fmt.Fprintf(w, "  total:     %d in %s\n", run.Total,
		run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
}

// humanSize formats a byte count the way people read it.
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
