package cmd

import (
	"github.com/djcass44/upkeep/pkg/airutil"
	"github.com/djcass44/upkeep/pkg/apply"
	v1 "github.com/djcass44/upkeep/pkg/api/v1"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

const (
	flagConfig     = "config"
	flagRoot       = "root"
	flagSource     = "source"
	flagPrerelease = "prerelease"
)

// addConfigFlags registers the flags shared by every command
// that operates on an install root.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringP(flagConfig, "c", "", "path to an update configuration file")
	cmd.Flags().String(flagRoot, "", "install root (overrides the configuration file)")
	cmd.Flags().String(flagSource, "", "release source URL or directory (overrides the configuration file)")
	cmd.Flags().Bool(flagPrerelease, false, "allow prerelease versions")

	_ = cmd.MarkFlagRequired(flagConfig)
	_ = cmd.MarkFlagFilename(flagConfig, ".yaml", ".yml", ".json")
}

func readConfig(cmd *cobra.Command) (*v1.Config, error) {
	log := logr.FromContextOrDiscard(cmd.Context())

	configPath, _ := cmd.Flags().GetString(flagConfig)
	cfg, err := v1.ReadConfigFile(configPath)
	if err != nil {
		log.Error(err, "failed to read config", "path", configPath)
		return nil, err
	}
	if cmd.Flags().Changed(flagRoot) {
		s, _ := cmd.Flags().GetString(flagRoot)
		cfg.Spec.Root = airutil.ExpandEnv(s)
	}
	if cmd.Flags().Changed(flagSource) {
		s, _ := cmd.Flags().GetString(flagSource)
		cfg.Spec.Source = airutil.ExpandEnv(s)
	}
	if cmd.Flags().Changed(flagPrerelease) {
		cfg.Spec.AllowPrerelease, _ = cmd.Flags().GetBool(flagPrerelease)
	}
	if err := cfg.Spec.Validate(); err != nil {
		log.Error(err, "invalid config", "path", configPath)
		return nil, err
	}
	log.V(1).Info("loaded config", "name", cfg.Name, "id", cfg.Spec.AppID, "root", cfg.Spec.Root)
	return cfg, nil
}

func newOrchestrator(cmd *cobra.Command, overrides ...func(opts *apply.Options)) (*apply.Orchestrator, error) {
	cfg, err := readConfig(cmd)
	if err != nil {
		return nil, err
	}
	return apply.FromConfig(cmd.Context(), cfg.Spec, overrides...)
}
