package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/civisync/civisync/internal/daemon"
)

var serveWatch bool

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false,
		"rescan automatically when model directories change")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the CiviSync API server",
	Long: `Start the HTTP API the host UI talks to: model inventory, sync
triggering, run history, and a live progress stream (SSE).`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	if serveWatch {
		d.Config.Sync.Watch = true
	}

	return d.Serve(context.Background())
}
