package installroot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/djcass44/upkeep/pkg/releases"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/hashicorp/go-version"
	"github.com/natefinch/atomic"
)

func New(path, id string) *Root {
	return &Root{
		path:    filepath.Clean(path),
		id:      id,
		LockDir: os.TempDir(),
	}
}

func (r *Root) Path() string {
	return r.path
}

func (r *Root) ID() string {
	return r.id
}

func (r *Root) PackagesDir() string {
	return filepath.Join(r.path, PackagesDir)
}

func (r *Root) ReleasesPath() string {
	return filepath.Join(r.path, PackagesDir, releases.FileName)
}

func (r *Root) PackagePath(e *releases.Entry) string {
	return filepath.Join(r.path, PackagesDir, e.Filename)
}

func (r *Root) StagingDir() string {
	return filepath.Join(r.path, StagingDir)
}

func (r *Root) VersionDir(v *version.Version) string {
	return filepath.Join(r.path, v.String())
}

func (r *Root) CurrentPath() string {
	return filepath.Join(r.path, CurrentLink)
}

// Init creates the directory skeleton.
func (r *Root) Init() error {
	for _, dir := range []string{r.PackagesDir(), r.StagingDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// NewStaging creates a fresh, uniquely named staging directory.
func (r *Root) NewStaging(ctx context.Context) (string, error) {
	dir := filepath.Join(r.StagingDir(), uuid.NewString())
	logr.FromContextOrDiscard(ctx).V(2).Info("creating staging directory", "path", dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	return dir, nil
}

// CleanStaging removes everything left behind in the staging
// area by earlier attempts.
func (r *Root) CleanStaging(ctx context.Context) error {
	logr.FromContextOrDiscard(ctx).V(2).Info("cleaning staging area", "path", r.StagingDir())
	if err := os.RemoveAll(r.StagingDir()); err != nil {
		return err
	}
	return os.MkdirAll(r.StagingDir(), 0755)
}

// Current returns the version the current pointer refers to,
// or nil if nothing has been promoted yet.
func (r *Root) Current() (*version.Version, error) {
	target, err := os.Readlink(r.CurrentPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading current pointer: %w", err)
	}
	v, err := version.NewSemver(filepath.Base(target))
	if err != nil {
		return nil, fmt.Errorf("current pointer refers to %q: %w", target, err)
	}
	return v, nil
}

// SetCurrent points current at an installed version. The new
// link is created beside the old one and renamed over it, so
// observers see either the old or the new target.
func (r *Root) SetCurrent(ctx context.Context, v *version.Version) error {
	log := logr.FromContextOrDiscard(ctx).WithValues("version", v.String())
	if _, err := os.Stat(r.VersionDir(v)); err != nil {
		return fmt.Errorf("version %s is not installed: %w", v.String(), err)
	}
	tmp := filepath.Join(r.path, "."+CurrentLink+"-"+uuid.NewString())
	if err := os.Symlink(v.String(), tmp); err != nil {
		log.Error(err, "failed to create pointer")
		return err
	}
	if err := atomic.ReplaceFile(tmp, r.CurrentPath()); err != nil {
		_ = os.Remove(tmp)
		log.Error(err, "failed to swap current pointer")
		return err
	}
	log.Info("updated current pointer")
	return nil
}

// Promote moves a verified staging directory into place as
// the given version. An existing directory for the same version
// is replaced unless it is the current one.
func (r *Root) Promote(ctx context.Context, staged string, v *version.Version) (string, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("version", v.String())
	dst := r.VersionDir(v)
	if _, err := os.Stat(dst); err == nil {
		current, err := r.Current()
		if err != nil {
			return "", err
		}
		if current != nil && current.Equal(v) {
			return "", fmt.Errorf("version %s is already current", v.String())
		}
		log.V(1).Info("replacing stale version directory", "path", dst)
		if err := os.RemoveAll(dst); err != nil {
			return "", err
		}
	}
	if err := os.Rename(staged, dst); err != nil {
		log.Error(err, "failed to move staged version into place")
		return "", err
	}
	log.V(1).Info("promoted staged version", "path", dst)
	return dst, nil
}

// Versions lists installed version directories in ascending
// order.
func (r *Root) Versions() ([]*version.Version, error) {
	items, err := os.ReadDir(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []*version.Version
	for _, item := range items {
		if !item.IsDir() {
			continue
		}
		v, err := version.NewSemver(item.Name())
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	sort.Sort(version.Collection(out))
	return out, nil
}

// PruneVersions removes every version directory except the
// current one and those listed in keep. The obsolete callback,
// when set, runs before each directory is removed.
func (r *Root) PruneVersions(ctx context.Context, obsolete func(v *version.Version, dir string), keep ...*version.Version) ([]*version.Version, error) {
	log := logr.FromContextOrDiscard(ctx)
	current, err := r.Current()
	if err != nil {
		return nil, err
	}
	if current != nil {
		keep = append(keep, current)
	}
	versions, err := r.Versions()
	if err != nil {
		return nil, err
	}
	var removed []*version.Version
	for _, v := range versions {
		if containsVersion(keep, v) {
			continue
		}
		dir := r.VersionDir(v)
		if obsolete != nil {
			obsolete(v, dir)
		}
		log.V(1).Info("removing superseded version", "version", v.String())
		if err := os.RemoveAll(dir); err != nil {
			log.Error(err, "failed to remove superseded version", "version", v.String())
			return removed, err
		}
		_ = os.Remove(r.digestPath(v))
		_ = os.Remove(r.MetadataPath(v))
		removed = append(removed, v)
	}
	return removed, nil
}

func containsVersion(vs []*version.Version, v *version.Version) bool {
	for _, o := range vs {
		if o != nil && o.Equal(v) {
			return true
		}
	}
	return false
}
