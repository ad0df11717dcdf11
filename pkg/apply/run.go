package apply

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/djcass44/upkeep/pkg/delta"
	"github.com/djcass44/upkeep/pkg/deltacodec"
	"github.com/djcass44/upkeep/pkg/downloader"
	"github.com/djcass44/upkeep/pkg/packages"
	"github.com/djcass44/upkeep/pkg/progress"
	"github.com/djcass44/upkeep/pkg/releases"
	"github.com/djcass44/upkeep/pkg/resolver"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"
)

const payloadDir = "payload"

// run carries the state of a single apply attempt.
type run struct {
	o        *Orchestrator
	info     *resolver.UpdateInfo
	progress *progress.Tracker

	staging string
	// final is the reconstructed or downloaded target package.
	final string
	// target is the full release entry of the final package.
	target *releases.Entry
	md     packages.Metadata
	rawMd  []byte
}

func newRun(o *Orchestrator, info *resolver.UpdateInfo) *run {
	// downloads and reconstruction each count as one step
	// per release
	return &run{
		o:        o,
		info:     info,
		progress: progress.New(2*len(info.ReleasesToApply), o.opts.Progress),
	}
}

// isPermanent reports errors that retrying cannot fix.
func isPermanent(err error) bool {
	for _, target := range []error{
		deltacodec.ErrPatchCorrupt,
		deltacodec.ErrPatchBaseMismatch,
		delta.ErrBaseFileMissing,
		delta.ErrReconstructionMismatch,
		packages.ErrCorruptArchive,
		downloader.ErrNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// download fetches every release that is not already cached.
func (r *run) download(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx)
	r.o.transition(ctx, StateDownloading)
	for _, e := range r.info.ReleasesToApply {
		dst := r.o.root.PackagePath(e)
		if r.o.cached(e) {
			log.V(1).Info("package is already cached", "file", e.Filename)
			r.progress.FinishRelease()
			continue
		}
		src := e.URL(r.o.opts.Source)
		err := r.o.retry(ctx, func(ctx context.Context) error {
			if err := r.o.dl.DownloadFile(ctx, src, dst, downloader.ProgressFunc(r.progress.Range(0, 100))); err != nil {
				return err
			}
			sum, size, err := releases.Sha1(dst)
			if err != nil {
				return err
			}
			if !e.HashEquals(sum) || size != e.Size {
				_ = os.Remove(dst)
				// a mismatch is usually a truncated transfer, so
				// it is worth another attempt
				return fmt.Errorf("%s: expected %s (%d bytes) but got %s (%d bytes)", e.Filename, e.SHA1, e.Size, sum, size)
			}
			return nil
		})
		if err != nil {
			log.Error(err, "failed to download package", "file", e.Filename)
			return &Error{State: StateDownloading, Entry: e, Err: err}
		}
		r.progress.FinishRelease()
	}
	return nil
}

// stage reconstructs the target package inside a fresh staging
// directory, verifies it and extracts its payload. It returns
// the extracted payload directory.
func (r *run) stage(ctx context.Context) (string, error) {
	log := logr.FromContextOrDiscard(ctx)
	root := r.o.root

	r.o.transition(ctx, StateStaging)
	staging, err := root.NewStaging(ctx)
	if err != nil {
		return "", err
	}
	r.staging = staging

	var current string
	if first := r.info.ReleasesToApply[0]; first.IsDelta {
		if r.info.Current == nil {
			return "", &Error{State: StateStaging, Entry: first, Err: fmt.Errorf("%w: no installed package to apply a delta to", delta.ErrBaseFileMissing)}
		}
		current = root.PackagePath(r.info.Current)
		if !r.o.cached(r.info.Current) {
			return "", &Error{State: StateStaging, Entry: r.info.Current, Err: fmt.Errorf("%w: %s", delta.ErrBaseFileMissing, r.info.Current.Filename)}
		}
		log.V(1).Info("using cached base package", "file", r.info.Current.Filename)
	}

	r.o.transition(ctx, StateReconstructing)
	for i, e := range r.info.ReleasesToApply {
		log := log.WithValues("file", e.Filename, "step", i+1, "of", len(r.info.ReleasesToApply))
		if !e.IsDelta {
			log.V(1).Info("using full package")
			current = root.PackagePath(e)
			r.progress.FinishRelease()
			continue
		}
		out := filepath.Join(staging, releases.Filename(e.ID, e.Version, false, ""))
		expect := ""
		if i == len(r.info.ReleasesToApply)-1 && r.info.Future != nil && !r.info.Future.IsDelta {
			expect = r.info.Future.SHA1
		}
		base := current
		err := r.o.retry(ctx, func(ctx context.Context) error {
			_, err := delta.ApplyFile(ctx, base, root.PackagePath(e), out, expect, r.o.opts.Delta)
			return err
		})
		if err != nil {
			log.Error(err, "failed to apply delta package")
			return "", &Error{State: StateReconstructing, Entry: e, Err: err}
		}
		// intermediate versions are only needed as the next base
		if filepath.Dir(base) == staging {
			_ = os.Remove(base)
		}
		current = out
		r.progress.FinishRelease()
		log.V(1).Info("applied delta package")
	}
	r.final = current

	r.o.transition(ctx, StateVerifying)
	if err := r.verify(ctx); err != nil {
		return "", &Error{State: StateVerifying, Entry: r.info.Future, Err: err}
	}
	dir := filepath.Join(staging, payloadDir)
	if err := r.extract(ctx, dir); err != nil {
		return "", &Error{State: StateVerifying, Entry: r.target, Err: err}
	}
	return dir, nil
}

// verify checks the final package against the hash the release
// index declares for the target, falling back to the hash
// recorded in the last delta when the index has no full entry.
func (r *run) verify(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx)
	last := r.info.ReleasesToApply[len(r.info.ReleasesToApply)-1]

	expect := ""
	if f := r.info.Future; f != nil && !f.IsDelta && f.Version.Equal(last.Version) {
		expect = f.SHA1
	} else if last.IsDelta {
		d, err := packages.Open(ctx, r.o.root.PackagePath(last))
		if err != nil {
			return err
		}
		desc, err := delta.ReadDescriptor(d)
		_ = d.Close()
		if err != nil {
			return err
		}
		expect = desc.TargetSha1
	} else {
		expect = last.SHA1
	}

	sum, size, err := releases.Sha1(r.final)
	if err != nil {
		return err
	}
	if !strings.EqualFold(sum, expect) {
		err := fmt.Errorf("%w: expected %s but got %s", delta.ErrReconstructionMismatch, expect, sum)
		log.Error(err, "failed to verify package")
		return err
	}
	target, err := releases.NewEntry(sum, releases.Filename(last.ID, last.Version, false, ""), size)
	if err != nil {
		return err
	}
	r.target = target
	log.Info("verified package", "file", target.Filename, "sha1", sum)
	return nil
}

func (r *run) extract(ctx context.Context, dir string) error {
	a, err := packages.Open(ctx, r.final)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.ID() != r.target.ID || !a.Version().Equal(r.target.Version) {
		return fmt.Errorf("%w: package is %s %s but %s %s was expected", packages.ErrCorruptArchive, a.ID(), a.Version().Original(), r.target.ID, r.target.Version.Original())
	}
	r.md = a.Metadata()
	r.rawMd = a.RawMetadata()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	// writes are confined to the payload directory
	fs := afero.NewBasePathFs(afero.NewOsFs(), dir)
	return a.ExtractAll(ctx, fs, "/")
}
