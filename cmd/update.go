package cmd

import (
	"fmt"

	"github.com/djcass44/upkeep/pkg/apply"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-version"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "download and apply the newest release",
	RunE:  update,
}

const (
	flagForceFull = "force-full"
	flagTarget    = "target"
)

func init() {
	addConfigFlags(updateCmd)
	updateCmd.Flags().Bool(flagForceFull, false, "ignore delta packages")
	updateCmd.Flags().String(flagTarget, "", "install a specific version instead of the newest")
}

func update(cmd *cobra.Command, _ []string) error {
	log := logr.FromContextOrDiscard(cmd.Context())

	forceFull, _ := cmd.Flags().GetBool(flagForceFull)
	targetVersion, _ := cmd.Flags().GetString(flagTarget)

	var target *version.Version
	if targetVersion != "" {
		v, err := version.NewSemver(targetVersion)
		if err != nil {
			return fmt.Errorf("parsing target version: %w", err)
		}
		target = v
	}

	o, err := newOrchestrator(cmd, func(opts *apply.Options) {
		opts.Resolver.ForceFull = forceFull
		opts.Resolver.Target = target
		opts.Progress = func(percent int) {
			log.V(1).Info("update progress", "percent", percent)
		}
	})
	if err != nil {
		return err
	}
	res, err := o.Update(cmd.Context())
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		log.Info("lifecycle hook failed", "hook", w.Hook.Path, "flag", w.Flag, "error", w.Err.Error())
	}
	if !res.Updated() {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "already up to date")
		return nil
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "installed %s\n", res.Installed.Version.String())
	return nil
}
