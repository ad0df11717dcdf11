package cmd

import (
	"fmt"
	"strings"

	"github.com/djcass44/upkeep/pkg/deltacodec"
	"github.com/djcass44/upkeep/pkg/packages"
	"github.com/djcass44/upkeep/pkg/publish"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "build a release from a directory and update RELEASES",
	RunE:  pack,
}

const (
	flagDir          = "dir"
	flagID           = "id"
	flagVersion      = "version"
	flagKeep         = "keep"
	flagTitle        = "title"
	flagDescription  = "description"
	flagAuthors      = "authors"
	flagArch         = "arch"
	flagIconURL      = "icon-url"
	flagReleaseNotes = "release-notes"
	flagHooks        = "hook"
	flagRuntimes     = "runtime"
	flagNoDelta      = "no-delta"
)

func init() {
	packCmd.Flags().StringP(flagDir, "d", "", "directory containing the application files")
	packCmd.Flags().String(flagID, "", "package identifier")
	packCmd.Flags().String(flagVersion, "", "semantic version of the release")
	packCmd.Flags().StringP(flagOut, "o", "releases", "release directory")
	packCmd.Flags().Int(flagKeep, 0, "number of versions to keep in the release directory (0 keeps all)")
	packCmd.Flags().String(flagTitle, "", "human readable title")
	packCmd.Flags().String(flagDescription, "", "package description")
	packCmd.Flags().String(flagAuthors, "", "package authors")
	packCmd.Flags().String(flagArch, "", "target architecture")
	packCmd.Flags().String(flagIconURL, "", "icon URL")
	packCmd.Flags().String(flagReleaseNotes, "", "release notes")
	packCmd.Flags().StringSlice(flagHooks, nil, "payload-relative executable that receives lifecycle notifications")
	packCmd.Flags().StringSlice(flagRuntimes, nil, "runtime dependency")
	packCmd.Flags().Bool(flagNoDelta, false, "do not build a delta against the previous release")
	packCmd.Flags().String(flagCompression, deltacodec.CompressionZstd.String(), "patch compression (zstd, xz or none)")
	packCmd.Flags().Float64(flagRatio, deltacodec.DefaultMaxPatchRatio, "store files verbatim when a patch exceeds this fraction of the new file")
	packCmd.Flags().Int(flagConcurrency, 0, "number of files processed at once (defaults to the number of CPUs)")

	_ = packCmd.MarkFlagRequired(flagDir)
	_ = packCmd.MarkFlagRequired(flagID)
	_ = packCmd.MarkFlagRequired(flagVersion)
	_ = packCmd.MarkFlagDirname(flagDir)
}

func pack(cmd *cobra.Command, _ []string) error {
	dir, _ := cmd.Flags().GetString(flagDir)
	out, _ := cmd.Flags().GetString(flagOut)
	keep, _ := cmd.Flags().GetInt(flagKeep)
	noDelta, _ := cmd.Flags().GetBool(flagNoDelta)

	md := packages.Metadata{}
	md.Package, _ = cmd.Flags().GetString(flagID)
	md.Version, _ = cmd.Flags().GetString(flagVersion)
	md.Title, _ = cmd.Flags().GetString(flagTitle)
	md.Description, _ = cmd.Flags().GetString(flagDescription)
	md.Authors, _ = cmd.Flags().GetString(flagAuthors)
	md.Architecture, _ = cmd.Flags().GetString(flagArch)
	md.IconURL, _ = cmd.Flags().GetString(flagIconURL)
	md.ReleaseNotes, _ = cmd.Flags().GetString(flagReleaseNotes)
	md.Hooks, _ = cmd.Flags().GetStringSlice(flagHooks)
	md.Runtimes, _ = cmd.Flags().GetStringSlice(flagRuntimes)
	if md.Title == "" {
		md.Title = md.Package
	}

	dopts, err := deltaOptions(cmd)
	if err != nil {
		return err
	}
	res, err := publish.Pack(cmd.Context(), afero.NewOsFs(), dir, md, out, publish.Options{
		Delta:     dopts,
		Keep:      keep,
		SkipDelta: noDelta,
	})
	if err != nil {
		return err
	}
	lines := []string{res.Full.String()}
	if res.Delta != nil {
		lines = append(lines, res.Delta.String())
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(lines, "\n"))
	return nil
}
