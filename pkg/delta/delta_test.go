package delta

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/djcass44/upkeep/internal/pkgtest"
	"github.com/djcass44/upkeep/pkg/deltacodec"
	"github.com/djcass44/upkeep/pkg/packages"
	"github.com/djcass44/upkeep/pkg/releases"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appV1 = strings.Repeat("application binary version one\n", 200)

func appV2() string {
	return strings.Replace(appV1, "version one", "version two", 3) + "with a new trailer\n"
}

func TestBuildAndApply(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	dir := t.TempDir()

	baseEntry := pkgtest.Write(t, dir, "MyApp", "1.0.0", pkgtest.Files{
		"app.exe": appV1,
		"lib.dll": "shared library",
		"old.dll": "going away",
	})
	targetEntry := pkgtest.Write(t, dir, "MyApp", "1.1.0", pkgtest.Files{
		"app.exe":         appV2(),
		"lib.dll":         "shared library",
		"new.dll":         "brand new",
		"plugins/a.dll":   "plugin",
		"docs/readme.txt": "read me",
	})
	base := pkgtest.Open(t, dir, baseEntry)
	target := pkgtest.Open(t, dir, targetEntry)

	deltaPath := filepath.Join(dir, "MyApp.1.1.0-delta.upkg")
	deltaEntry, err := Build(ctx, base, target, deltaPath, Options{Codec: deltacodec.DefaultOptions()})
	require.NoError(t, err)
	assert.True(t, deltaEntry.IsDelta)
	assert.EqualValues(t, "1.1.0", deltaEntry.Version.Original())

	d, err := packages.Open(ctx, deltaPath)
	require.NoError(t, err)
	defer d.Close()

	t.Run("contents", func(t *testing.T) {
		diff, err := d.ReadEntry("patch/app.exe.diff")
		require.NoError(t, err)
		assert.NotEmpty(t, diff)
		assert.Less(t, len(diff), len(appV2()))

		placeholder, err := d.ReadEntry("patch/lib.dll.diff")
		require.NoError(t, err)
		assert.Empty(t, placeholder)
		sum, err := d.ReadEntry("patch/lib.dll.shasum")
		require.NoError(t, err)
		assert.EqualValues(t, releases.Sha1Bytes([]byte("shared library"))+" lib.dll 14\n", string(sum))

		full, err := d.ReadFile("new.dll")
		require.NoError(t, err)
		assert.EqualValues(t, "brand new", string(full))
		assert.False(t, d.HasEntry("patch/new.dll.diff"))

		deleted, err := ReadDeleted(d)
		require.NoError(t, err)
		assert.EqualValues(t, []string{"old.dll"}, deleted)

		desc, err := ReadDescriptor(d)
		require.NoError(t, err)
		assert.EqualValues(t, "1.0.0", desc.BaseVersion)
		assert.EqualValues(t, baseEntry.SHA1, desc.BaseSha1)
		assert.EqualValues(t, targetEntry.SHA1, desc.TargetSha1)
		assert.EqualValues(t, targetEntry.Size, desc.TargetSize)
	})

	t.Run("deterministic", func(t *testing.T) {
		again := filepath.Join(t.TempDir(), "again.upkg")
		e, err := Build(ctx, base, target, again, Options{Codec: deltacodec.DefaultOptions(), Concurrency: 1})
		require.NoError(t, err)
		assert.EqualValues(t, deltaEntry.SHA1, e.SHA1)
	})

	t.Run("apply reproduces target", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "MyApp.1.1.0-full.upkg")
		e, err := Apply(ctx, base, d, out, targetEntry.SHA1, Options{})
		require.NoError(t, err)
		assert.EqualValues(t, targetEntry.SHA1, e.SHA1)
		assert.EqualValues(t, targetEntry.Filename, e.Filename)

		rebuilt, err := packages.Open(ctx, out)
		require.NoError(t, err)
		defer rebuilt.Close()
		assert.EqualValues(t, target.PayloadPaths(), rebuilt.PayloadPaths())
	})

	t.Run("wrong expected hash", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out.upkg")
		_, err := Apply(ctx, base, d, out, strings.Repeat("b", 40), Options{})
		assert.ErrorIs(t, err, ErrReconstructionMismatch)
		assert.NoFileExists(t, out)
	})

	t.Run("wrong base", func(t *testing.T) {
		otherDir := t.TempDir()
		other := pkgtest.Open(t, otherDir, pkgtest.Write(t, otherDir, "MyApp", "1.0.0", pkgtest.Files{
			"app.exe": "something else entirely",
		}))
		_, err := Apply(ctx, other, d, filepath.Join(otherDir, "out.upkg"), "", Options{})
		assert.ErrorIs(t, err, deltacodec.ErrPatchBaseMismatch)
	})
}

func TestApply_BaseFileMissing(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	dir := t.TempDir()

	base := pkgtest.Open(t, dir, pkgtest.Write(t, dir, "MyApp", "1.0.0", pkgtest.Files{
		"app.exe": appV1,
	}))

	// hand-craft a delta that refers to a file the base never had
	md := pkgtest.Metadata("MyApp", "1.1.0")
	b, err := packages.NewBuilder(md)
	require.NoError(t, err)
	baseSum, err := base.Hash()
	require.NoError(t, err)
	b.AddEntry(DescriptorName, []byte("Base-Version: 1.0.0\nBase-Sha1: "+baseSum+"\nTarget-Sha1: "+strings.Repeat("c", 40)+"\nTarget-Size: 1\n"))
	b.AddEntry(DeletedName, []byte("app.exe\n"))
	b.AddEntry("patch/missing.dll.diff", nil)
	b.AddEntry("patch/missing.dll.shasum", []byte(releases.Sha1Bytes(nil)+" missing.dll 0\n"))
	deltaPath := filepath.Join(dir, md.Filename(true))
	require.NoError(t, b.Write(ctx, deltaPath))

	_, err = ApplyFile(ctx, base.Path(), deltaPath, filepath.Join(dir, "out.upkg"), "", Options{})
	assert.ErrorIs(t, err, ErrBaseFileMissing)
}

func TestApply_UnaccountedBaseFile(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	dir := t.TempDir()

	base := pkgtest.Open(t, dir, pkgtest.Write(t, dir, "MyApp", "1.0.0", pkgtest.Files{
		"app.exe": appV1,
		"lib.dll": "library",
	}))

	// lib.dll is neither patched nor in the deletion list
	md := pkgtest.Metadata("MyApp", "1.1.0")
	b, err := packages.NewBuilder(md)
	require.NoError(t, err)
	baseSum, err := base.Hash()
	require.NoError(t, err)
	b.AddEntry(DescriptorName, []byte("Base-Version: 1.0.0\nBase-Sha1: "+baseSum+"\nTarget-Sha1: "+strings.Repeat("c", 40)+"\nTarget-Size: 1\n"))
	b.AddEntry(DeletedName, nil)
	b.AddEntry("patch/app.exe.diff", nil)
	b.AddEntry("patch/app.exe.shasum", []byte(releases.Sha1Bytes([]byte(appV1))+" app.exe "+strconv.Itoa(len(appV1))+"\n"))
	deltaPath := filepath.Join(dir, md.Filename(true))
	require.NoError(t, b.Write(ctx, deltaPath))

	dst := filepath.Join(dir, "out.upkg")
	_, err = ApplyFile(ctx, base.Path(), deltaPath, dst, "", Options{})
	assert.ErrorIs(t, err, deltacodec.ErrPatchCorrupt)
	assert.NoFileExists(t, dst)
}

func TestCreateFile(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	dir := t.TempDir()

	base := pkgtest.Write(t, dir, "MyApp", "1.0.0", pkgtest.Files{"app.exe": appV1})
	target := pkgtest.Write(t, dir, "MyApp", "2.0.0", pkgtest.Files{"app.exe": appV2()})

	e, err := CreateFile(ctx, filepath.Join(dir, base.Filename), filepath.Join(dir, target.Filename), "", Options{})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "MyApp.2.0.0-delta.upkg"))

	_, err = CreateFile(ctx, filepath.Join(dir, target.Filename), filepath.Join(dir, base.Filename), filepath.Join(dir, "x.upkg"), Options{})
	assert.Error(t, err)

	_, err = os.Stat(filepath.Join(dir, e.Filename))
	assert.NoError(t, err)
}

func TestParseShasum(t *testing.T) {
	var cases = []struct {
		name string
		in   string
		ok   bool
	}{
		{"simple", "0123456789012345678901234567890123456789 app.exe 10\n", true},
		{"spaces in name", "0123456789012345678901234567890123456789 my app.exe 10", true},
		{"missing size", "0123456789012345678901234567890123456789 app.exe", false},
		{"bad size", "0123456789012345678901234567890123456789 app.exe ten", false},
		{"empty", "", false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseShasum([]byte(tt.in))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, deltacodec.ErrPatchCorrupt)
			}
		})
	}
}
