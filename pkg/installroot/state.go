package installroot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/gosimple/hashdir"
	"github.com/hashicorp/go-version"
	"github.com/natefinch/atomic"
)

func (r *Root) deadPath() string {
	return filepath.Join(r.path, DeadFile)
}

func (r *Root) digestPath(v *version.Version) string {
	return filepath.Join(r.PackagesDir(), v.String()+digestExt)
}

// MetadataPath is where the descriptor of an installed version
// is kept, so that hooks can be found after its package has
// left the cache.
func (r *Root) MetadataPath(v *version.Version) string {
	return filepath.Join(r.PackagesDir(), v.String()+metadataExt)
}

// SaveMetadata stores the descriptor of an installed version.
func (r *Root) SaveMetadata(v *version.Version, raw []byte) error {
	return atomic.WriteFile(r.MetadataPath(v), bytes.NewReader(raw))
}

// LoadMetadata returns the stored descriptor of an installed
// version.
func (r *Root) LoadMetadata(v *version.Version) ([]byte, error) {
	return os.ReadFile(r.MetadataPath(v))
}

// IsDead reports whether the root carries an uninstall
// tombstone.
func (r *Root) IsDead() bool {
	_, err := os.Stat(r.deadPath())
	return err == nil
}

// MarkDead writes the tombstone.
func (r *Root) MarkDead() error {
	if err := os.MkdirAll(r.path, 0755); err != nil {
		return err
	}
	return atomic.WriteFile(r.deadPath(), strings.NewReader(""))
}

// Reset removes everything inside the root, the tombstone
// included.
func (r *Root) Reset(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx).WithValues("root", r.path)
	items, err := os.ReadDir(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, item := range items {
		p := filepath.Join(r.path, item.Name())
		log.V(2).Info("removing", "path", p)
		if err := os.RemoveAll(p); err != nil {
			log.Error(err, "failed to remove path", "path", p)
			return err
		}
	}
	return nil
}

// RemoveVersions deletes every installed version along with the
// current pointer.
func (r *Root) RemoveVersions(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx)
	if err := os.Remove(r.CurrentPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	versions, err := r.Versions()
	if err != nil {
		return err
	}
	for _, v := range versions {
		log.V(1).Info("removing version", "version", v.String())
		if err := os.RemoveAll(r.VersionDir(v)); err != nil {
			return err
		}
	}
	return nil
}

// RecordDigest hashes an installed version directory and
// stores the result beside the cached packages.
func (r *Root) RecordDigest(ctx context.Context, v *version.Version) (string, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("version", v.String())
	sum, err := hashdir.Make(r.VersionDir(v), digestAlgo)
	if err != nil {
		log.Error(err, "failed to hash version directory")
		return "", err
	}
	if err := atomic.WriteFile(r.digestPath(v), strings.NewReader(sum+"\n")); err != nil {
		return "", err
	}
	log.V(1).Info("recorded installed digest", "digest", sum)
	return sum, nil
}

// Verify compares the current version directory against its
// recorded digest.
func (r *Root) Verify(ctx context.Context) (*version.Version, error) {
	log := logr.FromContextOrDiscard(ctx)
	v, err := r.Current()
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNotInstalled
	}
	expected, err := os.ReadFile(r.digestPath(v))
	if err != nil {
		return v, fmt.Errorf("reading recorded digest: %w", err)
	}
	actual, err := hashdir.Make(r.VersionDir(v), digestAlgo)
	if err != nil {
		return v, err
	}
	if strings.TrimSpace(string(expected)) != actual {
		log.Info("installed files have changed", "version", v.String(), "expected", strings.TrimSpace(string(expected)), "actual", actual)
		return v, fmt.Errorf("%w: %s", ErrDigestMismatch, v.String())
	}
	log.V(1).Info("verified installed version", "version", v.String())
	return v, nil
}
