package cache

import (
	"fmt"

	"github.com/djcass44/upkeep/pkg/apply"
	v1 "github.com/djcass44/upkeep/pkg/api/v1"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Removes cached packages that the current version no longer needs",
	RunE:  clean,
}

const (
	flagConfig = "config"
)

func init() {
	cleanCmd.Flags().StringP(flagConfig, "c", "", "path to an update configuration file")

	_ = cleanCmd.MarkFlagRequired(flagConfig)
	_ = cleanCmd.MarkFlagFilename(flagConfig, ".yaml", ".yml", ".json")
}

func clean(cmd *cobra.Command, _ []string) error {
	log := logr.FromContextOrDiscard(cmd.Context())

	configPath, _ := cmd.Flags().GetString(flagConfig)
	cfg, err := v1.ReadConfigFile(configPath)
	if err != nil {
		return err
	}
	o, err := apply.FromConfig(cmd.Context(), cfg.Spec)
	if err != nil {
		return err
	}

	log.Info("cleaning package cache", "dir", o.Root().PackagesDir())
	removed, err := o.CleanCache(cmd.Context())
	if err != nil {
		return fmt.Errorf("cleaning package cache: %w", err)
	}
	for _, f := range removed {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), f)
	}
	return nil
}
