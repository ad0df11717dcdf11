package hooks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) {
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body+"\n"), 0755))
}

func TestExecRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("hooks are shell scripts")
	}
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	dir := t.TempDir()
	out := filepath.Join(dir, "calls.txt")

	writeScript(t, dir, "app.sh", `echo "$1 $2" >> "`+out+`"`)
	writeScript(t, dir, "broken.sh", `echo "exploded"; exit 3`)
	writeScript(t, dir, "slow.sh", `exec sleep 5`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not a hook"), 0644))

	r := NewExecRunner(500 * time.Millisecond)
	hooks, err := r.Discover(ctx, dir, []string{"app.sh", "broken.sh", "slow.sh", "readme.txt", "missing.sh", "../escape.sh"})
	require.NoError(t, err)
	require.Len(t, hooks, 3)
	assert.True(t, hooks[0].Supports(FlagUpdate))

	t.Run("success", func(t *testing.T) {
		require.NoError(t, r.Run(ctx, hooks[0], FlagUpdate, "1.1.0"))
		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.EqualValues(t, "--update 1.1.0\n", string(data))
	})
	t.Run("failure", func(t *testing.T) {
		err := r.Run(ctx, hooks[1], FlagInstall, "1.1.0")
		assert.ErrorIs(t, err, ErrHookFailure)
		assert.ErrorContains(t, err, "exploded")
	})
	t.Run("timeout", func(t *testing.T) {
		err := r.Run(ctx, hooks[2], FlagInstall, "1.1.0")
		assert.ErrorIs(t, err, ErrHookFailure)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
	t.Run("run all collects failures", func(t *testing.T) {
		failures := RunAll(ctx, r, hooks[:2], FlagObsolete, "1.0.0")
		require.Len(t, failures, 1)
		assert.EqualValues(t, hooks[1].Path, failures[0].Hook.Path)
		assert.True(t, errors.Is(failures[0], ErrHookFailure))
	})
}

func TestRunAll_Capabilities(t *testing.T) {
	ctx := context.TODO()
	r := &fakeRunner{}
	hooks := []Hook{
		{Path: "/a", Capabilities: []Flag{FlagInstall}},
		{Path: "/b", Capabilities: AllFlags},
	}
	failures := RunAll(ctx, r, hooks, FlagUninstall, "1.0.0")
	assert.Empty(t, failures)
	assert.EqualValues(t, []string{"/b"}, r.calls)
}

type fakeRunner struct {
	calls []string
}

func (f *fakeRunner) Discover(context.Context, string, []string) ([]Hook, error) {
	return nil, nil
}

func (f *fakeRunner) Run(_ context.Context, hook Hook, _ Flag, _ string) error {
	f.calls = append(f.calls, hook.Path)
	return nil
}
