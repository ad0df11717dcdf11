package packages

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMetadata() Metadata {
	return Metadata{
		Package:     "MyApp",
		Version:     "1.2.0",
		Title:       "My App",
		Description: "An application\nthat updates itself",
		Authors:     "Example Co",
		Hooks:       []string{"app.exe"},
		Runtimes:    []string{"net8", "vcredist"},
	}
}

func TestMetadata(t *testing.T) {
	raw, err := EncodeMetadata(testMetadata())
	require.NoError(t, err)

	md, err := DecodeMetadata(raw)
	require.NoError(t, err)
	assert.EqualValues(t, "MyApp", md.Package)
	assert.EqualValues(t, "1.2.0", md.SemVer().Original())
	assert.EqualValues(t, "An application that updates itself", md.Description)
	assert.EqualValues(t, []string{"app.exe"}, md.Hooks)
	assert.EqualValues(t, []string{"net8", "vcredist"}, md.Runtimes)
	assert.EqualValues(t, "MyApp.1.2.0-full.upkg", md.Filename(false))

	again, err := EncodeMetadata(md)
	require.NoError(t, err)
	assert.EqualValues(t, raw, again)
}

func TestMetadata_Validate(t *testing.T) {
	var cases = []struct {
		name string
		md   Metadata
		ok   bool
	}{
		{"valid", Metadata{Package: "a", Version: "1.0.0"}, true},
		{"prerelease", Metadata{Package: "a", Version: "1.0.0-beta.1"}, true},
		{"no id", Metadata{Version: "1.0.0"}, false},
		{"bad id", Metadata{Package: "a b", Version: "1.0.0"}, false},
		{"bad version", Metadata{Package: "a", Version: "one"}, false},
		{"dotted id", Metadata{Package: "Company.MyApp", Version: "1.0.0"}, true},
		{"id ending in a number", Metadata{Package: "Foo.2", Version: "1.0.0"}, false},
		{"id ending in a version", Metadata{Package: "Company.v2", Version: "1.0.0"}, false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.md.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestBuilder_Deterministic(t *testing.T) {
	build := func(order []string) []byte {
		b, err := NewBuilder(testMetadata())
		require.NoError(t, err)
		for _, name := range order {
			b.AddFile(name, 0644, []byte("content of "+name))
		}
		data, err := b.Bytes()
		require.NoError(t, err)
		return data
	}

	a := build([]string{"app.exe", "lib/core.dll", "readme.txt"})
	b := build([]string{"readme.txt", "lib/core.dll", "app.exe"})
	assert.EqualValues(t, a, b)
}

func TestOpen(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	dir := t.TempDir()
	dst := filepath.Join(dir, "MyApp.1.2.0-full.upkg")

	b, err := NewBuilder(testMetadata())
	require.NoError(t, err)
	b.AddFile("app.exe", 0755, []byte("binary"))
	b.AddFile("lib/core.dll", 0644, []byte("library"))
	b.AddDir("empty")
	require.NoError(t, b.Write(ctx, dst))

	a, err := Open(ctx, dst)
	require.NoError(t, err)
	defer a.Close()

	assert.EqualValues(t, "MyApp", a.ID())
	assert.EqualValues(t, "1.2.0", a.Version().Original())
	assert.EqualValues(t, []string{"app.exe", "lib/core.dll"}, a.PayloadPaths())

	var dirs []string
	for f := range a.Files() {
		if f.IsDir {
			dirs = append(dirs, f.Path)
		}
	}
	assert.ElementsMatch(t, []string{"empty", "lib"}, dirs)

	data, err := a.ReadFile("lib/core.dll")
	require.NoError(t, err)
	assert.EqualValues(t, "library", string(data))

	_, err = a.ReadFile("missing.dll")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	h, err := a.Hash()
	require.NoError(t, err)
	assert.Len(t, h, 40)

	t.Run("extract", func(t *testing.T) {
		mfs := afero.NewMemMapFs()
		require.NoError(t, a.ExtractAll(ctx, mfs, "/install"))

		data, err := afero.ReadFile(mfs, "/install/app.exe")
		require.NoError(t, err)
		assert.EqualValues(t, "binary", string(data))

		ok, err := afero.DirExists(mfs, "/install/empty")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestOpen_Corrupt(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	dir := t.TempDir()

	t.Run("not a zip", func(t *testing.T) {
		p := filepath.Join(dir, "junk.upkg")
		require.NoError(t, os.WriteFile(p, []byte("definitely not a zip"), 0644))
		_, err := Open(ctx, p)
		assert.True(t, errors.Is(err, ErrCorruptArchive))
	})
	t.Run("invalid metadata", func(t *testing.T) {
		p := filepath.Join(dir, "nometa.upkg")
		b := NewBuilderRaw([]byte("garbage"))
		b.AddFile("app.exe", 0644, []byte("x"))
		require.NoError(t, b.Write(ctx, p))
		_, err := Open(ctx, p)
		assert.ErrorIs(t, err, ErrCorruptArchive)
	})
}

func TestFromDirectory(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	mfs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mfs, "/src/app.exe", []byte("binary"), 0755))
	require.NoError(t, afero.WriteFile(mfs, "/src/data/config.json", []byte("{}"), 0644))
	require.NoError(t, mfs.MkdirAll("/src/logs", 0755))

	b, err := FromDirectory(ctx, mfs, "/src", testMetadata())
	require.NoError(t, err)
	assert.EqualValues(t, 2, b.Len())
	assert.ElementsMatch(t, []string{"data", "logs"}, b.directories())
}
