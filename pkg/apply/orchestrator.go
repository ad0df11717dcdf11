package apply

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/djcass44/upkeep/pkg/downloader"
	"github.com/djcass44/upkeep/pkg/hooks"
	"github.com/djcass44/upkeep/pkg/installroot"
	"github.com/djcass44/upkeep/pkg/releases"
	"github.com/djcass44/upkeep/pkg/resolver"
	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
)

func New(root *installroot.Root, dl Downloader, runner hooks.Runner, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = def.LockTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.KeepPackages < 1 {
		opts.KeepPackages = 1
	}
	return &Orchestrator{
		root:   root,
		dl:     dl,
		runner: runner,
		opts:   opts,
		state:  StateIdle,
	}
}

func (o *Orchestrator) Root() *installroot.Root {
	return o.root
}

// State returns the most recent state the orchestrator entered.
func (o *Orchestrator) State() State {
	return o.state
}

func (o *Orchestrator) transition(ctx context.Context, s State) {
	logr.FromContextOrDiscard(ctx).Info("entering state", "state", s, "previous", o.state)
	o.state = s
	if o.opts.OnState != nil {
		o.opts.OnState(s)
	}
}

// Installed returns the local release entry of the current
// version, or nil when nothing is installed or the root has
// been torn down.
func (o *Orchestrator) Installed(ctx context.Context) (*releases.Entry, error) {
	if o.root.IsDead() {
		return nil, nil
	}
	v, err := o.root.Current()
	if err != nil || v == nil {
		return nil, err
	}
	local, err := releases.Read(ctx, o.root.ReleasesPath())
	if err != nil {
		return nil, err
	}
	if e, ok := local.Full(o.root.ID(), v); ok {
		return e, nil
	}
	logr.FromContextOrDiscard(ctx).Info("current version has no local release entry", "version", v.String())
	return nil, nil
}

// FetchManifest downloads the remote release index. Malformed
// lines are logged and skipped.
func (o *Orchestrator) FetchManifest(ctx context.Context) (*releases.Manifest, error) {
	src := joinSource(o.opts.Source, releases.FileName)
	var data []byte
	err := o.retry(ctx, func(ctx context.Context) error {
		var err error
		data, err = o.dl.DownloadBytes(ctx, src)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching release index: %w", err)
	}
	return releases.Decode(ctx, data), nil
}

// CheckForUpdate resolves what it would take to move the
// installation to the newest release.
func (o *Orchestrator) CheckForUpdate(ctx context.Context) (*resolver.UpdateInfo, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("id", o.root.ID())
	current, err := o.Installed(ctx)
	if err != nil {
		log.Error(err, "failed to determine installed version")
		return nil, err
	}
	remote, err := o.FetchManifest(ctx)
	if err != nil {
		log.Error(err, "failed to fetch release index")
		return nil, err
	}

	opts := o.opts.Resolver
	if current != nil && !opts.ForceFull && !o.cached(current) {
		// deltas need the current package as their base
		log.Info("current package is not cached, only full packages can be used", "version", current.Version.String())
		opts.ForceFull = true
	}
	info, err := resolver.Resolve(ctx, o.root.ID(), current, remote, opts)
	if err != nil {
		log.Error(err, "failed to resolve update")
		return nil, err
	}
	log.Info("resolved update", "releases", len(info.ReleasesToApply), "bytes", info.TotalSize())
	return info, nil
}

// Update checks for and applies the newest release while
// holding the update lock.
func (o *Orchestrator) Update(ctx context.Context) (*Result, error) {
	lock, err := o.root.Lock(ctx, o.opts.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	info, err := o.CheckForUpdate(ctx)
	if err != nil {
		return nil, err
	}
	return o.apply(ctx, info)
}

// Apply installs a previously resolved plan.
func (o *Orchestrator) Apply(ctx context.Context, info *resolver.UpdateInfo) (*Result, error) {
	lock, err := o.root.Lock(ctx, o.opts.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()
	return o.apply(ctx, info)
}

func (o *Orchestrator) apply(ctx context.Context, info *resolver.UpdateInfo) (*Result, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("id", o.root.ID())
	o.state = StateIdle

	previous, err := o.root.Current()
	if err != nil {
		return nil, err
	}
	res := &Result{Previous: previous, Installed: info.Current}
	if !info.HasUpdate() {
		log.Info("no update available")
		o.transition(ctx, StateComplete)
		return res, nil
	}

	if o.root.IsDead() {
		// an explicit install is the only thing that revives
		// a torn down root
		log.Info("installing into an uninstalled root")
		if err := o.root.Reset(ctx); err != nil {
			return nil, &Error{State: StateIdle, Err: err}
		}
		previous = nil
		res.Previous = nil
	}
	res.FirstInstall = previous == nil
	if err := o.root.Init(); err != nil {
		return nil, &Error{State: StateIdle, Err: err}
	}
	if err := o.root.CleanStaging(ctx); err != nil {
		return nil, &Error{State: StateIdle, Err: err}
	}

	run := newRun(o, info)
	if err := run.download(ctx); err != nil {
		return nil, err
	}
	staged, err := run.stage(ctx)
	if err != nil {
		return nil, o.rollback(ctx, run, err)
	}
	if err := o.promote(ctx, run, staged, res); err != nil {
		return nil, err
	}

	o.transition(ctx, StateHooksRunning)
	res.Warnings = append(res.Warnings, o.runHooks(ctx, run, res.FirstInstall)...)

	run.progress.Done()
	o.transition(ctx, StateComplete)
	log.Info("update complete", "version", res.Installed.Version.String(), "warnings", len(res.Warnings))
	return res, nil
}

func (o *Orchestrator) rollback(ctx context.Context, run *run, cause error) error {
	log := logr.FromContextOrDiscard(ctx)
	failed := o.state
	o.transition(ctx, StateRollingBack)
	if err := os.RemoveAll(run.staging); err != nil {
		log.Error(err, "failed to remove staging directory", "path", run.staging)
	}
	var ae *Error
	if errors.As(cause, &ae) {
		return ae
	}
	return &Error{State: failed, Err: cause}
}

func (o *Orchestrator) backoff() wait.Backoff {
	return wait.Backoff{
		Duration: o.opts.RetryDelay,
		Factor:   2,
		Jitter:   0.1,
		Steps:    o.opts.Retries + 1,
	}
}

// retry runs fn until it succeeds, returns a permanent error or
// the attempts run out. It is the only retry loop around
// downloads and reconstruction.
func (o *Orchestrator) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	log := logr.FromContextOrDiscard(ctx)
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, o.backoff(), func(ctx context.Context) (bool, error) {
		err := fn(ctx)
		if err == nil {
			return true, nil
		}
		if isPermanent(err) {
			return false, err
		}
		log.V(1).Info("attempt failed, retrying", "error", err.Error())
		lastErr = err
		return false, nil
	})
	if err != nil && wait.Interrupted(err) && lastErr != nil && ctx.Err() == nil {
		return lastErr
	}
	return err
}

// cached reports whether the package for e is in the local
// cache with the expected hash.
func (o *Orchestrator) cached(e *releases.Entry) bool {
	sum, size, err := releases.Sha1(o.root.PackagePath(e))
	if err != nil {
		return false
	}
	return e.HashEquals(sum) && size == e.Size
}

func joinSource(source, name string) string {
	if source == "" {
		return name
	}
	if downloader.IsRemote(source) {
		return strings.TrimSuffix(source, "/") + "/" + name
	}
	return strings.TrimSuffix(source, string(os.PathSeparator)) + string(os.PathSeparator) + name
}
