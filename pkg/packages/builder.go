package packages

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/djcass44/upkeep/pkg/archiveutil"
	"github.com/go-logr/logr"
	"github.com/natefinch/atomic"
	"github.com/spf13/afero"
)

type blob struct {
	mode os.FileMode
	data []byte
}

// Builder assembles a package in memory and writes it in a
// canonical form: entries sorted by name, a fixed timestamp and
// a fixed compression level. Two builders holding the same
// content always produce identical bytes.
type Builder struct {
	raw   []byte
	files map[string]blob
	dirs  map[string]struct{}
	extra map[string]blob
}

// NewBuilder starts a package with the given descriptor.
func NewBuilder(md Metadata) (*Builder, error) {
	raw, err := EncodeMetadata(md)
	if err != nil {
		return nil, err
	}
	return NewBuilderRaw(raw), nil
}

// NewBuilderRaw starts a package whose descriptor is copied
// verbatim from another archive.
func NewBuilderRaw(raw []byte) *Builder {
	return &Builder{
		raw:   raw,
		files: map[string]blob{},
		dirs:  map[string]struct{}{},
		extra: map[string]blob{},
	}
}

// AddFile stages a payload file.
func (b *Builder) AddFile(rel string, mode os.FileMode, data []byte) {
	rel = archiveutil.SanitizePath(rel)
	if rel == "" {
		return
	}
	if mode.Perm() == 0 {
		mode = 0644
	}
	b.files[rel] = blob{mode: mode.Perm(), data: data}
}

// AddDir stages a payload directory. Parents of staged files
// are added implicitly.
func (b *Builder) AddDir(rel string) {
	rel = archiveutil.SanitizePath(rel)
	if rel == "" {
		return
	}
	b.dirs[rel] = struct{}{}
}

// AddEntry stages an entry outside the payload directory.
func (b *Builder) AddEntry(name string, data []byte) {
	b.AddEntryMode(name, 0644, data)
}

// AddEntryMode is AddEntry with an explicit file mode.
func (b *Builder) AddEntryMode(name string, mode os.FileMode, data []byte) {
	if mode.Perm() == 0 {
		mode = 0644
	}
	b.extra[archiveutil.SanitizePath(name)] = blob{mode: mode.Perm(), data: data}
}

func (b *Builder) Len() int {
	return len(b.files)
}

// directories returns every explicit directory plus the
// parents of every file, without the payload root.
func (b *Builder) directories() []string {
	set := make(map[string]struct{}, len(b.dirs))
	add := func(d string) {
		for d != "." && d != "" {
			set[d] = struct{}{}
			d = path.Dir(d)
		}
	}
	for d := range b.dirs {
		add(d)
	}
	for f := range b.files {
		add(path.Dir(f))
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	return out
}

// WriteTo encodes the package into w.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	type item struct {
		name string
		dir  bool
		blob blob
	}
	items := make([]item, 0, len(b.files)+len(b.extra)+1)
	items = append(items, item{name: MetadataName, blob: blob{mode: 0644, data: b.raw}})
	for name, bl := range b.extra {
		if name == MetadataName {
			continue
		}
		items = append(items, item{name: name, blob: bl})
	}
	for _, d := range b.directories() {
		items = append(items, item{name: path.Join(PayloadDir, d), dir: true})
	}
	for name, bl := range b.files {
		items = append(items, item{name: path.Join(PayloadDir, name), blob: bl})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].name < items[j].name
	})

	cw := &countingWriter{w: w}
	zw := archiveutil.NewWriter(cw)
	for _, it := range items {
		var err error
		if it.dir {
			err = zw.WriteDir(it.name, 0755)
		} else {
			err = zw.WriteFile(it.name, it.blob.mode, it.blob.data)
		}
		if err != nil {
			return cw.n, err
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("finalising archive: %w", err)
	}
	return cw.n, nil
}

// Bytes returns the encoded package.
func (b *Builder) Bytes() ([]byte, error) {
	buf := bytes.Buffer{}
	if _, err := b.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write atomically writes the package to dst.
func (b *Builder) Write(ctx context.Context, dst string) error {
	log := logr.FromContextOrDiscard(ctx).WithValues("path", dst)
	data, err := b.Bytes()
	if err != nil {
		log.Error(err, "failed to encode package")
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := atomic.WriteFile(dst, bytes.NewReader(data)); err != nil {
		log.Error(err, "failed to write package")
		return fmt.Errorf("writing package: %w", err)
	}
	log.V(3).Info("wrote package", "size", len(data), "files", len(b.files))
	return nil
}

// FromDirectory stages every regular file and directory
// under dir. Symbolic links and other special files are
// skipped.
func FromDirectory(ctx context.Context, fs afero.Fs, dir string, md Metadata) (*Builder, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("dir", dir)
	b, err := NewBuilder(md)
	if err != nil {
		return nil, err
	}
	err = afero.Walk(fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		switch {
		case info.IsDir():
			b.AddDir(rel)
		case info.Mode().IsRegular():
			data, err := afero.ReadFile(fs, p)
			if err != nil {
				return err
			}
			b.AddFile(rel, info.Mode(), data)
		default:
			log.V(4).Info("skipping special file", "path", rel, "mode", info.Mode())
		}
		return nil
	})
	if err != nil {
		log.Error(err, "failed to walk directory")
		return nil, err
	}
	log.V(3).Info("staged directory", "files", b.Len())
	return b, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
