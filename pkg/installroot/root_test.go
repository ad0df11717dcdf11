package installroot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoot(t *testing.T) *Root {
	r := New(filepath.Join(t.TempDir(), "MyApp"), "MyApp")
	r.LockDir = t.TempDir()
	require.NoError(t, r.Init())
	return r
}

func install(t *testing.T, ctx context.Context, r *Root, ver string) *version.Version {
	v := version.Must(version.NewSemver(ver))
	staged, err := r.NewStaging(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(staged, "app.exe"), []byte("app "+ver), 0755))
	_, err = r.Promote(ctx, staged, v)
	require.NoError(t, err)
	return v
}

func TestRoot_Current(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	r := newRoot(t)

	v, err := r.Current()
	require.NoError(t, err)
	assert.Nil(t, v)

	v1 := install(t, ctx, r, "1.0.0")
	require.NoError(t, r.SetCurrent(ctx, v1))
	v2 := install(t, ctx, r, "1.1.0")
	require.NoError(t, r.SetCurrent(ctx, v2))

	current, err := r.Current()
	require.NoError(t, err)
	assert.True(t, current.Equal(v2))

	// the pointer resolves to the version directory
	data, err := os.ReadFile(filepath.Join(r.CurrentPath(), "app.exe"))
	require.NoError(t, err)
	assert.EqualValues(t, "app 1.1.0", string(data))

	// no temporary links are left behind
	items, err := os.ReadDir(r.Path())
	require.NoError(t, err)
	var names []string
	for _, item := range items {
		names = append(names, item.Name())
	}
	assert.ElementsMatch(t, []string{"1.0.0", "1.1.0", "current", "packages", "staging"}, names)

	t.Run("missing version", func(t *testing.T) {
		err := r.SetCurrent(ctx, version.Must(version.NewSemver("9.0.0")))
		assert.Error(t, err)
		current, err := r.Current()
		require.NoError(t, err)
		assert.True(t, current.Equal(v2))
	})
	t.Run("promote over current", func(t *testing.T) {
		staged, err := r.NewStaging(ctx)
		require.NoError(t, err)
		_, err = r.Promote(ctx, staged, v2)
		assert.Error(t, err)
	})
}

func TestRoot_PruneVersions(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	r := newRoot(t)

	v1 := install(t, ctx, r, "1.0.0")
	v2 := install(t, ctx, r, "1.1.0")
	v3 := install(t, ctx, r, "1.2.0")
	require.NoError(t, r.SetCurrent(ctx, v3))

	var obsolete []string
	removed, err := r.PruneVersions(ctx, func(v *version.Version, dir string) {
		obsolete = append(obsolete, v.String())
		assert.DirExists(t, dir)
	}, v2)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.True(t, removed[0].Equal(v1))
	assert.EqualValues(t, []string{"1.0.0"}, obsolete)

	versions, err := r.Versions()
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestRoot_Digest(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	r := newRoot(t)

	_, err := r.Verify(ctx)
	assert.ErrorIs(t, err, ErrNotInstalled)

	v := install(t, ctx, r, "1.0.0")
	require.NoError(t, r.SetCurrent(ctx, v))
	sum, err := r.RecordDigest(ctx, v)
	require.NoError(t, err)
	assert.NotEmpty(t, sum)

	_, err = r.Verify(ctx)
	assert.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(r.VersionDir(v), "app.exe"), []byte("tampered"), 0755))
	_, err = r.Verify(ctx)
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func TestRoot_Dead(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	r := newRoot(t)
	v := install(t, ctx, r, "1.0.0")
	require.NoError(t, r.SetCurrent(ctx, v))

	require.NoError(t, r.RemoveVersions(ctx))
	require.NoError(t, r.MarkDead())
	assert.True(t, r.IsDead())

	versions, err := r.Versions()
	require.NoError(t, err)
	assert.Empty(t, versions)
	current, err := r.Current()
	require.NoError(t, err)
	assert.Nil(t, current)

	require.NoError(t, r.Reset(ctx))
	assert.False(t, r.IsDead())
}

func TestRoot_Lock(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	r := newRoot(t)

	l, err := r.Lock(ctx, time.Second)
	require.NoError(t, err)

	// a second handle on the same application cannot get in
	other := New(r.Path(), r.ID())
	other.LockDir = r.LockDir
	_, err = other.Lock(ctx, 300*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, l.Unlock())
	l2, err := other.Lock(ctx, time.Second)
	require.NoError(t, err)
	assert.NoError(t, l2.Unlock())
}
