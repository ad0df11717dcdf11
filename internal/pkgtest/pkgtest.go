// Package pkgtest builds small, reproducible packages for tests.
package pkgtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/djcass44/upkeep/pkg/packages"
	"github.com/djcass44/upkeep/pkg/releases"
	"github.com/stretchr/testify/require"
)

// Files maps payload paths to their contents.
type Files map[string]string

func Metadata(id, ver string) packages.Metadata {
	return packages.Metadata{
		Package:     id,
		Version:     ver,
		Title:       id,
		Description: "test package " + id,
		Authors:     "upkeep",
	}
}

// Write builds a full package into dir and returns its
// manifest entry.
func Write(t testing.TB, dir, id, ver string, files Files) *releases.Entry {
	t.Helper()
	return WriteMetadata(t, dir, Metadata(id, ver), files)
}

// WriteMetadata is Write with a caller supplied descriptor.
func WriteMetadata(t testing.TB, dir string, md packages.Metadata, files Files) *releases.Entry {
	t.Helper()
	b, err := packages.NewBuilder(md)
	require.NoError(t, err)
	for name, content := range files {
		mode := os.FileMode(0o644)
		if ext := filepath.Ext(name); ext == ".exe" || ext == ".sh" {
			mode = 0o755
		}
		b.AddFile(name, mode, []byte(content))
	}
	dst := filepath.Join(dir, md.Filename(false))
	require.NoError(t, b.Write(context.TODO(), dst))

	e, err := releases.FromFile(dst)
	require.NoError(t, err)
	return e
}

// Open opens a package that was written into dir.
func Open(t testing.TB, dir string, e *releases.Entry) *packages.Archive {
	t.Helper()
	a, err := packages.Open(context.TODO(), filepath.Join(dir, e.Filename))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
	})
	return a
}
