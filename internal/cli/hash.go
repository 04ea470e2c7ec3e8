package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/civisync/civisync/internal/daemon"
)

var hashForce bool

func init() {
	hashCmd.Flags().BoolVar(&hashForce, "force", false, "ignore the hash cache")
	rootCmd.AddCommand(hashCmd)
}

var hashCmd = &cobra.Command{
	Use:   "hash FILE",
	Short: "Print a model file's content hash (SHA-256 and AutoV2)",
	Args:  cobra.ExactArgs(1),
	RunE:  runHash,
}

func runHash(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	if hashForce {
		d.Hashes.Forget(args[0])
	}

	h, err := d.Hashes.Fingerprint(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("sha256: %s\nautov2: %s\n", h, h.AutoV2())
	return nil
}
