package cmd

import (
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "remove every installed version and mark the root as uninstalled",
	RunE:  uninstall,
}

func init() {
	addConfigFlags(uninstallCmd)
}

func uninstall(cmd *cobra.Command, _ []string) error {
	log := logr.FromContextOrDiscard(cmd.Context())

	o, err := newOrchestrator(cmd)
	if err != nil {
		return err
	}
	warnings, err := o.Uninstall(cmd.Context())
	for _, w := range warnings {
		log.Info("lifecycle hook failed", "hook", w.Hook.Path, "flag", w.Flag, "error", w.Err.Error())
	}
	return err
}
