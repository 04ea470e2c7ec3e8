package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/civisync/civisync/internal/daemon"
	"github.com/civisync/civisync/internal/domain"
)

var (
	syncTypes       []string
	syncWorkers     int
	syncRecalculate bool
)

func init() {
	syncCmd.Flags().StringSliceVarP(&syncTypes, "type", "t", nil,
		"model types to sync (checkpoint, lora, embedding); default all")
	syncCmd.Flags().IntVarP(&syncWorkers, "workers", "w", 0,
		"worker pool width (overrides config)")
	syncCmd.Flags().BoolVar(&syncRecalculate, "recalculate-hash", false,
		"ignore the hash cache and rehash every file")
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile local models against the Civitai catalog",
	Long: `Scan the configured model directories, resolve each file's content hash
against the catalog, and write updated metadata to sidecar files.
Ctrl-C cancels: in-flight items finish, no new items start.`,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	if syncWorkers > 0 {
		d.Config.Sync.Workers = syncWorkers
	}

	var types []domain.ModelType
	for _, t := range syncTypes {
		mt, err := domain.ParseModelType(t)
		if err != nil {
			return err
		}
		types = append(types, mt)
	}

	if syncRecalculate {
		files, err := d.Scanner.Scan(types)
		if err != nil {
			return err
		}
		for _, f := range files {
			d.Hashes.Forget(f.Path)
		}
	}

	// Progress to the terminal, one line per state transition.
	unsub := subscribeProgress(d)
	defer unsub()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, err := d.RunSync(ctx, types)
	if err != nil {
		return err
	}

	fmt.Println()
	printSummary(os.Stdout, run)
	if run.Fatal != "" {
		return fmt.Errorf("run failed: %s", run.Fatal)
	}
	return nil
}
