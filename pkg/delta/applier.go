package delta

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/djcass44/upkeep/pkg/deltacodec"
	"github.com/djcass44/upkeep/pkg/packages"
	"github.com/djcass44/upkeep/pkg/releases"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"pault.ag/go/debian/control"
)

// ReadDescriptor returns the descriptor of a delta package.
func ReadDescriptor(d *packages.Archive) (*Descriptor, error) {
	data, err := d.ReadEntry(DescriptorName)
	if err != nil {
		return nil, fmt.Errorf("%w: not a delta package: %w", packages.ErrCorruptArchive, err)
	}
	var desc Descriptor
	if err := control.Unmarshal(&desc, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: decoding delta descriptor: %w", packages.ErrCorruptArchive, err)
	}
	return &desc, nil
}

// ReadDeleted returns the paths removed by a delta package.
func ReadDeleted(d *packages.Archive) ([]string, error) {
	data, err := d.ReadEntry(DeletedName)
	if err != nil {
		return nil, fmt.Errorf("%w: reading deletion list: %w", packages.ErrCorruptArchive, err)
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSuffix(line, "\r"); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// Apply reconstructs the full package described by d from base
// and writes it to dst. When expectSha1 is empty the hash
// recorded in the delta is used. The written package is
// removed again if its hash does not match.
func Apply(ctx context.Context, base, d *packages.Archive, dst, expectSha1 string, opts Options) (*releases.Entry, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("base", base.Version().Original(), "target", d.Version().Original())
	log.Info("applying delta package")

	desc, err := ReadDescriptor(d)
	if err != nil {
		log.Error(err, "failed to read delta descriptor")
		return nil, err
	}
	if base.ID() != d.ID() {
		return nil, fmt.Errorf("%w: delta for %s cannot apply to %s", deltacodec.ErrPatchBaseMismatch, d.ID(), base.ID())
	}
	baseSum, err := base.Hash()
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(baseSum, desc.BaseSha1) {
		err := fmt.Errorf("%w: delta was built against %s (%s) but base is %s (%s)", deltacodec.ErrPatchBaseMismatch, desc.BaseVersion, desc.BaseSha1, base.Version().Original(), baseSum)
		log.Error(err, "failed to match base package")
		return nil, err
	}
	if expectSha1 == "" {
		expectSha1 = desc.TargetSha1
	}

	deleted, err := ReadDeleted(d)
	if err != nil {
		return nil, err
	}
	log.V(1).Info("removing files", "count", len(deleted))

	b := packages.NewBuilderRaw(d.RawMetadata())
	var jobs []packages.File
	var patches []packages.File
	for f := range d.Files() {
		if f.IsDir {
			b.AddDir(f.Path)
			continue
		}
		jobs = append(jobs, f)
	}
	for f := range d.Entries(PatchDir) {
		if !f.IsDir && strings.HasSuffix(f.Path, diffSuffix) {
			patches = append(patches, f)
		}
	}
	if err := checkAccounted(base, patches, deleted); err != nil {
		log.Error(err, "failed to match delta against base contents")
		return nil, err
	}

	newFiles := make([]fileResult, len(jobs))
	patched := make([]fileResult, len(patches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency(opts))
	for i, f := range jobs {
		g.Go(func() error {
			data, err := d.ReadFile(f.Path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", f.Path, err)
			}
			newFiles[i] = fileResult{path: f.Path, mode: f.Mode.Perm(), data: data}
			return nil
		})
	}
	for i, f := range patches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := patchFile(gctx, base, d, f)
			if err != nil {
				return err
			}
			patched[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error(err, "failed to reconstruct package contents")
		return nil, err
	}
	for _, res := range newFiles {
		b.AddFile(res.path, res.mode, res.data)
	}
	for _, res := range patched {
		b.AddFile(res.path, res.mode, res.data)
	}

	if err := b.Write(ctx, dst); err != nil {
		return nil, err
	}
	sum, size, err := releases.Sha1(dst)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(sum, expectSha1) {
		_ = os.Remove(dst)
		err := fmt.Errorf("%w: expected %s but got %s", ErrReconstructionMismatch, expectSha1, sum)
		log.Error(err, "failed to verify reconstructed package")
		return nil, err
	}
	md := d.Metadata()
	entry, err := releases.NewEntry(sum, md.Filename(false), size)
	if err != nil {
		return nil, err
	}
	log.Info("reconstructed package", "path", dst, "sha1", sum)
	return entry, nil
}

// checkAccounted requires every file of the base to be either
// patched or listed as deleted.
func checkAccounted(base *packages.Archive, patches []packages.File, deleted []string) error {
	known := make(map[string]struct{}, len(patches)+len(deleted))
	for _, f := range patches {
		known[strings.TrimSuffix(f.Path, diffSuffix)] = struct{}{}
	}
	for _, rel := range deleted {
		known[rel] = struct{}{}
	}
	for f := range base.Files() {
		if f.IsDir {
			continue
		}
		if _, ok := known[f.Path]; !ok {
			return fmt.Errorf("%w: %s is neither patched nor deleted", deltacodec.ErrPatchCorrupt, f.Path)
		}
	}
	return nil
}

func patchFile(ctx context.Context, base, d *packages.Archive, f packages.File) (fileResult, error) {
	rel := strings.TrimSuffix(f.Path, diffSuffix)
	log := logr.FromContextOrDiscard(ctx).WithValues("file", rel)

	diff, err := d.ReadEntry(path.Join(PatchDir, f.Path))
	if err != nil {
		return fileResult{}, err
	}
	rawSum, err := d.ReadEntry(path.Join(PatchDir, rel+shasumSuffix))
	if err != nil {
		return fileResult{}, fmt.Errorf("%w: missing shasum for %s", deltacodec.ErrPatchCorrupt, rel)
	}
	sum, err := parseShasum(rawSum)
	if err != nil {
		return fileResult{}, err
	}

	oldBytes, err := base.ReadFile(rel)
	if errors.Is(err, fs.ErrNotExist) {
		return fileResult{}, fmt.Errorf("%w: %s", ErrBaseFileMissing, rel)
	}
	if err != nil {
		return fileResult{}, err
	}

	out := oldBytes
	if len(diff) > 0 {
		log.V(3).Info("patching file")
		out, err = deltacodec.Patch(oldBytes, diff)
		if err != nil {
			return fileResult{}, fmt.Errorf("patching %s: %w", rel, err)
		}
	} else {
		log.V(4).Info("copying unchanged file")
	}
	if int64(len(out)) != sum.size || !strings.EqualFold(releases.Sha1Bytes(out), sum.sha1) {
		return fileResult{}, fmt.Errorf("%w: %s", ErrReconstructionMismatch, rel)
	}
	return fileResult{path: rel, mode: f.Mode.Perm(), data: out}, nil
}

// ApplyFile opens both packages from disk and reconstructs the
// full package at dst.
func ApplyFile(ctx context.Context, basePath, deltaPath, dst, expectSha1 string, opts Options) (*releases.Entry, error) {
	base, err := packages.Open(ctx, basePath)
	if err != nil {
		return nil, err
	}
	defer base.Close()
	d, err := packages.Open(ctx, deltaPath)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return Apply(ctx, base, d, dst, expectSha1, opts)
}
