package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "check the installed files against the digest recorded at install time",
	RunE:  verify,
}

func init() {
	addConfigFlags(verifyCmd)
}

func verify(cmd *cobra.Command, _ []string) error {
	o, err := newOrchestrator(cmd)
	if err != nil {
		return err
	}
	v, err := o.Root().Verify(cmd.Context())
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s ok\n", v.String())
	return nil
}
