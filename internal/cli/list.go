package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/civisync/civisync/internal/daemon"
	"github.com/civisync/civisync/internal/domain"
)

var listTypes []string

func init() {
	listCmd.Flags().StringSliceVarP(&listTypes, "type", "t", nil,
		"model types to list (checkpoint, lora, embedding); default all")
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List local model files and their sync status",
	RunE:    runList,
}

func runList(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	var types []domain.ModelType
	for _, t := range listTypes {
		mt, err := domain.ParseModelType(t)
		if err != nil {
			return err
		}
		types = append(types, mt)
	}

	files, err := d.Scanner.Scan(types)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No model files found. Configure directories with 'civisync config'.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tSIZE\tSYNCED\tSTATUS")
	for _, f := range files {
		status, synced := "-", "no"
		rec, err := d.Sidecars.Read(f.Path)
		switch {
		case err == nil:
			synced = "yes"
			if rec.Provenance.Status != "" {
				status = string(rec.Provenance.Status)
			}
		case errors.Is(err, domain.ErrSidecarMissing):
			// Never synced.
		default:
			status = "unreadable sidecar"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			f.Base(), f.Type, humanSize(f.SizeBytes), synced, status)
	}
	return w.Flush()
}
