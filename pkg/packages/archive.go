package packages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"path"
	"sort"
	"strings"

	"github.com/djcass44/upkeep/pkg/archiveutil"
	"github.com/djcass44/upkeep/pkg/releases"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-version"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// Open reads a package from disk. Any structural problem,
// including a missing or unreadable descriptor, is reported
// as ErrCorruptArchive.
func Open(ctx context.Context, path string) (*Archive, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("path", path)
	log.V(3).Info("opening package")

	zr, err := zip.OpenReader(path)
	if err != nil {
		log.Error(err, "failed to open package")
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptArchive, path, err)
	}
	a := &Archive{
		path:  path,
		zr:    zr,
		files: make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		a.files[archiveutil.SanitizePath(f.Name)+dirSuffix(f)] = f
	}
	raw, err := a.ReadEntry(MetadataName)
	if err != nil {
		_ = zr.Close()
		log.Error(err, "failed to read package metadata")
		return nil, fmt.Errorf("%w: %s: missing %s", ErrCorruptArchive, path, MetadataName)
	}
	md, err := DecodeMetadata(raw)
	if err != nil {
		_ = zr.Close()
		log.Error(err, "failed to decode package metadata")
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptArchive, path, err)
	}
	a.raw = raw
	a.metadata = md
	a.version = md.SemVer()
	return a, nil
}

func dirSuffix(f *zip.File) string {
	if f.FileInfo().IsDir() {
		return "/"
	}
	return ""
}

func (a *Archive) Close() error {
	return a.zr.Close()
}

func (a *Archive) Path() string {
	return a.path
}

func (a *Archive) Metadata() Metadata {
	return a.metadata
}

// RawMetadata returns the descriptor exactly as it is
// stored in the archive.
func (a *Archive) RawMetadata() []byte {
	return a.raw
}

func (a *Archive) ID() string {
	return a.metadata.Package
}

func (a *Archive) Version() *version.Version {
	return a.version
}

// Hash returns the hex SHA-1 of the archive file.
func (a *Archive) Hash() (string, error) {
	sum, _, err := releases.Sha1(a.path)
	return sum, err
}

// Files yields every payload entry in archive order. The
// sequence may be iterated more than once.
func (a *Archive) Files() iter.Seq[File] {
	return a.Entries(PayloadDir)
}

// Entries yields the entries found under the given top-level
// directory with the directory prefix removed.
func (a *Archive) Entries(dir string) iter.Seq[File] {
	prefix := dir + "/"
	return func(yield func(File) bool) {
		for _, f := range a.zr.File {
			name := archiveutil.SanitizePath(f.Name)
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			info := f.FileInfo()
			file := File{
				Path:  strings.TrimPrefix(name, prefix),
				Size:  int64(f.UncompressedSize64),
				Mode:  info.Mode(),
				IsDir: info.IsDir(),
			}
			if !yield(file) {
				return
			}
		}
	}
}

// ReadFile returns the contents of a payload file.
func (a *Archive) ReadFile(rel string) ([]byte, error) {
	return a.ReadEntry(path.Join(PayloadDir, archiveutil.SanitizePath(rel)))
}

// ReadEntry returns the contents of any non-directory entry.
// A missing entry returns fs.ErrNotExist.
func (a *Archive) ReadEntry(name string) ([]byte, error) {
	f, ok := a.files[archiveutil.SanitizePath(name)]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptArchive, name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptArchive, name, err)
	}
	return data, nil
}

// HasEntry reports whether the archive contains the named
// file entry.
func (a *Archive) HasEntry(name string) bool {
	_, ok := a.files[archiveutil.SanitizePath(name)]
	return ok
}

// ExtractAll writes the payload into dir.
func (a *Archive) ExtractAll(ctx context.Context, fs afero.Fs, dir string) error {
	log := logr.FromContextOrDiscard(ctx).WithValues("id", a.ID(), "version", a.version.Original())
	log.V(3).Info("extracting package", "dst", dir)
	if err := archiveutil.Unzip(ctx, &a.zr.Reader, PayloadDir, fs, dir); err != nil {
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) || errors.Is(err, zip.ErrAlgorithm) {
			return fmt.Errorf("%w: %w", ErrCorruptArchive, err)
		}
		return fmt.Errorf("extracting package: %w", err)
	}
	return nil
}

// PayloadPaths returns the sorted paths of the payload files,
// excluding directories.
func (a *Archive) PayloadPaths() []string {
	var out []string
	for f := range a.Files() {
		if !f.IsDir {
			out = append(out, f.Path)
		}
	}
	sort.Strings(out)
	return out
}
