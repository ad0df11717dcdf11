package cmd

import (
	"fmt"

	"github.com/djcass44/upkeep/pkg/resolver"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "print the releases needed to reach the newest version",
	RunE:  check,
}

func init() {
	addConfigFlags(checkCmd)
}

func check(cmd *cobra.Command, _ []string) error {
	o, err := newOrchestrator(cmd)
	if err != nil {
		return err
	}
	info, err := o.CheckForUpdate(cmd.Context())
	if err != nil {
		return err
	}
	printPlan(cmd, info)
	return nil
}

func printPlan(cmd *cobra.Command, info *resolver.UpdateInfo) {
	out := cmd.OutOrStdout()
	current := "none"
	if info.Current != nil {
		current = info.Current.Version.String()
	}
	if !info.HasUpdate() {
		_, _ = fmt.Fprintf(out, "%s is up to date\n", current)
		return
	}
	_, _ = fmt.Fprintf(out, "%s -> %s (%d bytes)\n", current, info.Future.Version.String(), info.TotalSize())
	for _, e := range info.ReleasesToApply {
		_, _ = fmt.Fprintf(out, "  %s\t%d\n", e.Filename, e.Size)
	}
}
