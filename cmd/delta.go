package cmd

import (
	"fmt"

	"github.com/djcass44/upkeep/pkg/delta"
	"github.com/djcass44/upkeep/pkg/deltacodec"
	"github.com/spf13/cobra"
)

var deltaCmd = &cobra.Command{
	Use:   "delta",
	Short: "create and apply delta packages",
}

var deltaCreateCmd = &cobra.Command{
	Use:   "create <base> <target>",
	Short: "build a delta package that turns base into target",
	Args:  cobra.ExactArgs(2),
	RunE:  deltaCreate,
}

var deltaApplyCmd = &cobra.Command{
	Use:   "apply <base> <delta>",
	Short: "reconstruct a full package from a base and a delta",
	Args:  cobra.ExactArgs(2),
	RunE:  deltaApply,
}

const (
	flagOut         = "out"
	flagExpect      = "expect"
	flagCompression = "compression"
	flagRatio       = "max-patch-ratio"
	flagConcurrency = "concurrency"
)

func init() {
	deltaCmd.PersistentFlags().Int(flagConcurrency, 0, "number of files processed at once (defaults to the number of CPUs)")

	deltaCreateCmd.Flags().StringP(flagOut, "o", "", "output file or directory (defaults to the directory of target)")
	deltaCreateCmd.Flags().String(flagCompression, deltacodec.CompressionZstd.String(), "patch compression (zstd, xz or none)")
	deltaCreateCmd.Flags().Float64(flagRatio, deltacodec.DefaultMaxPatchRatio, "store files verbatim when a patch exceeds this fraction of the new file")

	deltaApplyCmd.Flags().StringP(flagOut, "o", "", "path of the reconstructed package")
	deltaApplyCmd.Flags().String(flagExpect, "", "expected sha1 of the reconstructed package")
	_ = deltaApplyCmd.MarkFlagRequired(flagOut)

	deltaCmd.AddCommand(deltaCreateCmd, deltaApplyCmd)
}

func deltaOptions(cmd *cobra.Command) (delta.Options, error) {
	var opts delta.Options
	opts.Concurrency, _ = cmd.Flags().GetInt(flagConcurrency)
	if cmd.Flags().Lookup(flagCompression) == nil {
		return opts, nil
	}
	compression, _ := cmd.Flags().GetString(flagCompression)
	c, err := deltacodec.ParseCompression(compression)
	if err != nil {
		return opts, err
	}
	opts.Codec.Compression = c
	opts.Codec.MaxPatchRatio, _ = cmd.Flags().GetFloat64(flagRatio)
	return opts, nil
}

func deltaCreate(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString(flagOut)
	opts, err := deltaOptions(cmd)
	if err != nil {
		return err
	}
	e, err := delta.CreateFile(cmd.Context(), args[0], args[1], out, opts)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), e.String())
	return nil
}

func deltaApply(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString(flagOut)
	expect, _ := cmd.Flags().GetString(flagExpect)
	opts, err := deltaOptions(cmd)
	if err != nil {
		return err
	}
	e, err := delta.ApplyFile(cmd.Context(), args[0], args[1], out, expect, opts)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), e.String())
	return nil
}
