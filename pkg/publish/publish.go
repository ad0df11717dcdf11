package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/djcass44/upkeep/pkg/delta"
	"github.com/djcass44/upkeep/pkg/packages"
	"github.com/djcass44/upkeep/pkg/releases"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"
)

// Pack builds a full package from dir, a delta against the
// previous full release found in out, and regenerates the
// RELEASES file of out.
func Pack(ctx context.Context, fs afero.Fs, dir string, md packages.Metadata, out string, opts Options) (*Result, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("id", md.Package, "version", md.Version, "out", out)
	if err := md.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(out, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	existing, err := releases.Read(ctx, filepath.Join(out, releases.FileName))
	if err != nil {
		return nil, err
	}
	v := md.SemVer()
	if _, ok := existing.Full(md.Package, v); ok {
		return nil, fmt.Errorf("%w: %s", ErrReleaseExists, md.Filename(false))
	}

	b, err := packages.FromDirectory(ctx, fs, dir, md)
	if err != nil {
		return nil, err
	}
	fullPath := filepath.Join(out, md.Filename(false))
	if err := b.Write(ctx, fullPath); err != nil {
		return nil, err
	}
	res := &Result{}
	if res.Full, err = releases.FromFile(fullPath); err != nil {
		return nil, err
	}
	log.Info("built full package", "file", res.Full.Filename, "size", res.Full.Size)

	if prev := previousFull(existing, md); prev != nil && !opts.SkipDelta {
		basePath := filepath.Join(out, prev.Filename)
		switch _, err := os.Stat(basePath); {
		case err == nil:
			res.Delta, err = delta.CreateFile(ctx, basePath, fullPath, out, opts.Delta)
			if err != nil {
				log.Error(err, "failed to build delta package", "base", prev.Filename)
				return nil, err
			}
			log.Info("built delta package", "file", res.Delta.Filename, "size", res.Delta.Size, "base", prev.Version.String())
		case errors.Is(err, os.ErrNotExist):
			log.Info("previous full package is missing, skipping delta", "base", prev.Filename)
		default:
			return nil, err
		}
	}

	m, err := releases.BuildFromDirectory(ctx, out)
	if err != nil {
		return nil, err
	}
	if opts.Keep > 0 {
		m, res.Removed = releases.Prune(m, opts.Keep)
		for _, e := range res.Removed {
			log.V(1).Info("removing old release", "file", e.Filename)
			if err := os.Remove(filepath.Join(out, e.Filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("removing %s: %w", e.Filename, err)
			}
		}
		if len(res.Removed) > 0 {
			if err := releases.Write(ctx, filepath.Join(out, releases.FileName), m); err != nil {
				return nil, err
			}
		}
	}
	res.Manifest = m
	return res, nil
}

// previousFull returns the newest full release older than md.
func previousFull(m *releases.Manifest, md packages.Metadata) *releases.Entry {
	v := md.SemVer()
	var out *releases.Entry
	for _, e := range m.Entries() {
		if e.ID != md.Package || e.IsDelta || !e.Version.LessThan(v) {
			continue
		}
		if out == nil || e.Version.GreaterThan(out.Version) {
			out = e
		}
	}
	return out
}
