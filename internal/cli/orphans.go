package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/civisync/civisync/internal/daemon"
)

func init() {
	rootCmd.AddCommand(orphansCmd)
}

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Report sidecar files whose model file no longer exists",
	Long: `List sidecar records left behind after a model file was moved or deleted.
Orphans are reported, never deleted; remove them by hand if unwanted.`,
	RunE: runOrphans,
}

func runOrphans(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	orphans, err := d.Scanner.Orphans(nil)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		fmt.Println("No orphaned sidecars.")
		return nil
	}
	for _, o := range orphans {
		fmt.Println(o)
	}
	fmt.Printf("%d orphaned sidecar(s)\n", len(orphans))
	return nil
}
