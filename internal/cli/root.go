// Package cli implements the civisync command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "civisync",
	Short: "Keep local model metadata in sync with the Civitai catalog",
	Long: `CiviSync reconciles a local Stable Diffusion model library against the
Civitai catalog. Models are identified by content hash; matched metadata
(tags, version, activation text) is written to WebUI-compatible JSON
sidecar files next to each model.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
