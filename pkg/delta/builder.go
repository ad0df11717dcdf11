package delta

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/djcass44/upkeep/pkg/deltacodec"
	"github.com/djcass44/upkeep/pkg/packages"
	"github.com/djcass44/upkeep/pkg/releases"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"pault.ag/go/debian/control"
)

// Build writes a delta package to dst that turns base into
// target, and returns its manifest entry.
func Build(ctx context.Context, base, target *packages.Archive, dst string, opts Options) (*releases.Entry, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("base", base.Version().Original(), "target", target.Version().Original())
	log.Info("building delta package")

	if base.ID() != target.ID() {
		return nil, fmt.Errorf("cannot build a delta between different packages: %s and %s", base.ID(), target.ID())
	}
	if base.Version().GreaterThanOrEqual(target.Version()) {
		return nil, fmt.Errorf("base version %s is not older than target version %s", base.Version().Original(), target.Version().Original())
	}

	baseSum, _, err := releases.Sha1(base.Path())
	if err != nil {
		log.Error(err, "failed to hash base package")
		return nil, err
	}
	targetSum, targetSize, err := releases.Sha1(target.Path())
	if err != nil {
		log.Error(err, "failed to hash target package")
		return nil, err
	}

	baseFiles := map[string]packages.File{}
	for f := range base.Files() {
		if !f.IsDir {
			baseFiles[f.Path] = f
		}
	}

	b := packages.NewBuilderRaw(target.RawMetadata())
	var targetFiles []packages.File
	for f := range target.Files() {
		if f.IsDir {
			b.AddDir(f.Path)
			continue
		}
		targetFiles = append(targetFiles, f)
	}

	results := make([]fileResult, len(targetFiles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency(opts))
	for i, f := range targetFiles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := diffFile(gctx, base, target, f, baseFiles, opts)
			if err != nil {
				return fmt.Errorf("diffing %s: %w", f.Path, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error(err, "failed to diff package contents")
		return nil, err
	}

	for _, res := range results {
		if res.shasum == nil {
			b.AddFile(res.path, res.mode, res.data)
			continue
		}
		b.AddEntryMode(path.Join(PatchDir, res.path+diffSuffix), res.mode, res.diff)
		b.AddEntry(path.Join(PatchDir, res.path+shasumSuffix), []byte(res.shasum.String()+"\n"))
	}

	// anything left in the base is gone from the target
	inTarget := make(map[string]struct{}, len(targetFiles))
	for _, f := range targetFiles {
		inTarget[f.Path] = struct{}{}
	}
	var deleted []string
	for p := range baseFiles {
		if _, ok := inTarget[p]; !ok {
			deleted = append(deleted, p)
		}
	}
	sort.Strings(deleted)
	log.V(1).Info("computed deletions", "count", len(deleted))
	if len(deleted) > 0 {
		b.AddEntry(DeletedName, []byte(strings.Join(deleted, "\n")+"\n"))
	} else {
		b.AddEntry(DeletedName, nil)
	}

	desc := bytes.Buffer{}
	if err := control.Marshal(&desc, Descriptor{
		BaseVersion: base.Version().Original(),
		BaseSha1:    baseSum,
		TargetSha1:  targetSum,
		TargetSize:  int(targetSize),
	}); err != nil {
		return nil, fmt.Errorf("encoding delta descriptor: %w", err)
	}
	b.AddEntry(DescriptorName, desc.Bytes())

	if err := b.Write(ctx, dst); err != nil {
		return nil, err
	}
	sum, size, err := releases.Sha1(dst)
	if err != nil {
		return nil, err
	}
	md := target.Metadata()
	entry, err := releases.NewEntry(sum, md.Filename(true), size)
	if err != nil {
		return nil, err
	}
	log.Info("built delta package", "path", dst, "size", size, "fullSize", targetSize)
	return entry, nil
}

func diffFile(ctx context.Context, base, target *packages.Archive, f packages.File, baseFiles map[string]packages.File, opts Options) (fileResult, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("file", f.Path)
	newBytes, err := target.ReadFile(f.Path)
	if err != nil {
		return fileResult{}, err
	}
	res := fileResult{path: f.Path, mode: f.Mode.Perm()}
	if _, ok := baseFiles[f.Path]; !ok {
		log.V(3).Info("file is new")
		res.data = newBytes
		return res, nil
	}
	oldBytes, err := base.ReadFile(f.Path)
	if err != nil {
		return fileResult{}, err
	}
	newSum := releases.Sha1Bytes(newBytes)
	res.shasum = &shasum{sha1: newSum, name: path.Base(f.Path), size: int64(len(newBytes))}
	if releases.Sha1Bytes(oldBytes) == newSum {
		log.V(4).Info("file is unchanged")
		return res, nil
	}
	res.diff, err = deltacodec.Diff(oldBytes, newBytes, opts.Codec)
	if err != nil {
		return fileResult{}, err
	}
	log.V(3).Info("file has changed", "patchSize", len(res.diff), "size", len(newBytes))
	return res, nil
}

func concurrency(opts Options) int {
	if opts.Concurrency > 0 {
		return opts.Concurrency
	}
	return runtime.NumCPU()
}

// CreateFile opens both packages from disk and writes the delta
// next to the target unless dst is set.
func CreateFile(ctx context.Context, basePath, targetPath, dst string, opts Options) (*releases.Entry, error) {
	base, err := packages.Open(ctx, basePath)
	if err != nil {
		return nil, err
	}
	defer base.Close()
	target, err := packages.Open(ctx, targetPath)
	if err != nil {
		return nil, err
	}
	defer target.Close()

	if dst == "" {
		md := target.Metadata()
		dst = filepath.Join(filepath.Dir(targetPath), md.Filename(true))
	} else if fi, err := os.Stat(dst); err == nil && fi.IsDir() {
		md := target.Metadata()
		dst = filepath.Join(dst, md.Filename(true))
	}
	return Build(ctx, base, target, dst, opts)
}
