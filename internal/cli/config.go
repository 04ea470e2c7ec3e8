package cli

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/civisync/civisync/internal/daemon"
	"github.com/civisync/civisync/internal/domain"
)

var configSetDirs map[string]string

func init() {
	configCmd.Flags().StringToStringVar(&configSetDirs, "set-dir", nil,
		"set a model directory, e.g. --set-dir lora=/path/to/loras")
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update the configuration",
	Long:  `With no flags, prints the effective configuration. Flags update and save it.`,
	RunE:  runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	if len(configSetDirs) > 0 {
		for key, dir := range configSetDirs {
			mt, err := domain.ParseModelType(key)
			if err != nil {
				return err
			}
			switch mt {
			case domain.TypeCheckpoint:
				cfg.Models.CheckpointDir = dir
			case domain.TypeLORA:
				cfg.Models.LoraDir = dir
			case domain.TypeEmbedding:
				cfg.Models.EmbeddingDir = dir
			}
		}
		if err := daemon.SaveConfig(cfg); err != nil {
			return err
		}
		fmt.Println("Saved", daemon.ConfigPath())
		return nil
	}

	fmt.Printf("# %s\n", daemon.ConfigPath())
	return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
}
