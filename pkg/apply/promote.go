package apply

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/djcass44/upkeep/pkg/hooks"
	"github.com/djcass44/upkeep/pkg/packages"
	"github.com/djcass44/upkeep/pkg/releases"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-version"
)

// promote moves the verified payload into the install root and
// swaps the current pointer. Nothing here is retried.
func (o *Orchestrator) promote(ctx context.Context, run *run, staged string, res *Result) error {
	log := logr.FromContextOrDiscard(ctx)
	root := o.root
	v := run.target.Version
	defer func() {
		_ = os.RemoveAll(run.staging)
	}()

	o.transition(ctx, StatePromoting)
	fail := func(err error) error {
		log.Error(err, "failed to promote version", "version", v.String())
		return &Error{State: StatePromoting, Entry: run.target, Err: err}
	}

	if _, err := root.Promote(ctx, staged, v); err != nil {
		return fail(err)
	}
	cachePath := root.PackagePath(run.target)
	if run.final != cachePath {
		if err := os.Rename(run.final, cachePath); err != nil {
			return fail(err)
		}
	}
	if err := root.SaveMetadata(v, run.rawMd); err != nil {
		return fail(err)
	}

	// the local index has to know the new version before the
	// pointer moves, and the old one until it has moved
	local, err := releases.Read(ctx, root.ReleasesPath())
	if err != nil {
		return fail(err)
	}
	local.Put(run.target)
	if err := releases.Write(ctx, root.ReleasesPath(), local); err != nil {
		return fail(err)
	}

	if err := root.SetCurrent(ctx, v); err != nil {
		return fail(err)
	}
	res.Installed = run.target
	res.Applied = run.info.ReleasesToApply

	// from here on the new version is live, so clean-up
	// problems are only logged
	removed, err := root.PruneVersions(ctx, func(old *version.Version, dir string) {
		res.Warnings = append(res.Warnings, o.runVersionHooks(ctx, old, dir, hooks.FlagObsolete)...)
	}, v, res.Previous)
	if err != nil {
		log.Error(err, "failed to remove superseded versions")
	}
	res.Removed = removed

	if _, err := o.prunePackages(ctx); err != nil {
		log.Error(err, "failed to prune package cache")
	}
	if _, err := root.RecordDigest(ctx, v); err != nil {
		log.Error(err, "failed to record installed digest")
	}
	return nil
}

// prunePackages keeps the newest full packages in the local
// cache and deletes every other cached package.
func (o *Orchestrator) prunePackages(ctx context.Context) ([]string, error) {
	log := logr.FromContextOrDiscard(ctx)
	root := o.root
	local, err := releases.Read(ctx, root.ReleasesPath())
	if err != nil {
		return nil, err
	}
	current, err := root.Current()
	if err != nil {
		return nil, err
	}

	full, err := releases.NewManifest()
	if err != nil {
		return nil, err
	}
	for _, e := range local.Entries() {
		if !e.IsDelta {
			full.Put(e)
		}
	}
	kept, _ := releases.Prune(full, o.opts.KeepPackages)
	if current != nil {
		if e, ok := local.Full(root.ID(), current); ok {
			kept.Put(e)
		}
	}

	keep := map[string]struct{}{}
	for _, e := range kept.Entries() {
		keep[e.Filename] = struct{}{}
	}
	items, err := os.ReadDir(root.PackagesDir())
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, item := range items {
		if item.IsDir() || item.Name() == releases.FileName {
			continue
		}
		if _, _, _, err := releases.ParseFilename(item.Name()); err != nil {
			continue
		}
		if _, ok := keep[item.Name()]; ok {
			continue
		}
		log.V(1).Info("removing cached package", "file", item.Name())
		if err := os.Remove(filepath.Join(root.PackagesDir(), item.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed = append(removed, item.Name())
	}
	if err := releases.Write(ctx, root.ReleasesPath(), kept); err != nil {
		return removed, err
	}
	return removed, nil
}

// CleanCache removes cached packages that are no longer needed.
func (o *Orchestrator) CleanCache(ctx context.Context) ([]string, error) {
	lock, err := o.root.Lock(ctx, o.opts.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()
	return o.prunePackages(ctx)
}

func (o *Orchestrator) runHooks(ctx context.Context, run *run, firstInstall bool) []*hooks.Failure {
	flag := hooks.FlagUpdate
	if firstInstall {
		flag = hooks.FlagInstall
	}
	return o.discoverAndRun(ctx, run.md, o.root.VersionDir(run.target.Version), flag, run.target.Version.String())
}

// runVersionHooks notifies the hooks of an installed version,
// using the descriptor stored when it was promoted.
func (o *Orchestrator) runVersionHooks(ctx context.Context, v *version.Version, dir string, flag hooks.Flag) []*hooks.Failure {
	log := logr.FromContextOrDiscard(ctx).WithValues("version", v.String())
	raw, err := o.root.LoadMetadata(v)
	if err != nil {
		log.V(1).Info("no stored metadata, skipping hooks", "error", err.Error())
		return nil
	}
	md, err := packages.DecodeMetadata(raw)
	if err != nil {
		log.Error(err, "failed to decode stored metadata")
		return nil
	}
	return o.discoverAndRun(ctx, md, dir, flag, v.String())
}

func (o *Orchestrator) discoverAndRun(ctx context.Context, md packages.Metadata, dir string, flag hooks.Flag, ver string) []*hooks.Failure {
	log := logr.FromContextOrDiscard(ctx)
	if o.runner == nil || len(md.Hooks) == 0 {
		return nil
	}
	found, err := o.runner.Discover(ctx, dir, md.Hooks)
	if err != nil {
		log.Error(err, "failed to discover lifecycle hooks", "dir", dir)
		return []*hooks.Failure{{Flag: flag, Hook: hooks.Hook{Path: dir}, Err: err}}
	}
	failures := hooks.RunAll(ctx, o.runner, found, flag, ver)
	for _, f := range failures {
		log.Info("lifecycle hook failed", "hook", f.Hook.Path, "flag", f.Flag, "error", f.Err.Error())
	}
	return failures
}
