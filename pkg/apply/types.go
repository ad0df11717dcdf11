package apply

import (
	"context"
	"fmt"
	"time"

	"github.com/djcass44/upkeep/pkg/delta"
	"github.com/djcass44/upkeep/pkg/downloader"
	"github.com/djcass44/upkeep/pkg/hooks"
	"github.com/djcass44/upkeep/pkg/installroot"
	"github.com/djcass44/upkeep/pkg/progress"
	"github.com/djcass44/upkeep/pkg/releases"
	"github.com/djcass44/upkeep/pkg/resolver"
	"github.com/hashicorp/go-version"
)

type State string

const (
	StateIdle           State = "Idle"
	StateDownloading    State = "Downloading"
	StateStaging        State = "Staging"
	StateReconstructing State = "Reconstructing"
	StateVerifying      State = "Verifying"
	StatePromoting      State = "Promoting"
	StateHooksRunning   State = "HooksRunning"
	StateComplete       State = "Complete"
	StateRollingBack    State = "RollingBack"
)

// Downloader fetches manifests and packages.
type Downloader interface {
	DownloadBytes(ctx context.Context, src string) ([]byte, error)
	DownloadFile(ctx context.Context, src, dst string, progress downloader.ProgressFunc) error
}

var _ Downloader = &downloader.Downloader{}

type Options struct {
	// Source is the base URL or directory holding the remote
	// RELEASES file and packages.
	Source   string
	Resolver resolver.Options
	Delta    delta.Options

	LockTimeout time.Duration
	// Retries bounds how often a download or reconstruction
	// step is attempted again after an I/O failure.
	Retries    int
	RetryDelay time.Duration
	// KeepPackages is the number of full packages kept in the
	// local cache, newest first. It is at least one.
	KeepPackages int

	Progress progress.Func
	// OnState is called on every state transition.
	OnState func(State)
}

func DefaultOptions() Options {
	return Options{
		LockTimeout:  30 * time.Second,
		Retries:      3,
		RetryDelay:   500 * time.Millisecond,
		KeepPackages: 1,
	}
}

// Error reports where an apply attempt stopped. The previously
// current version is untouched whenever State precedes
// StatePromoting.
type Error struct {
	State State
	// Entry is the release being processed, if any.
	Entry *releases.Entry
	Err   error
}

func (e *Error) Error() string {
	if e.Entry != nil {
		return fmt.Sprintf("%s failed for %s: %s", e.State, e.Entry.Filename, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result describes a completed apply.
type Result struct {
	// Previous is the version that was current before, or nil.
	Previous *version.Version
	// Installed is the full release that is now current.
	Installed *releases.Entry
	Applied   []*releases.Entry
	// FirstInstall is set when nothing was installed before.
	FirstInstall bool
	// Removed lists superseded version directories.
	Removed []*version.Version
	// Warnings holds lifecycle hooks that failed. They never
	// undo an update.
	Warnings []*hooks.Failure
}

// Updated reports whether anything changed on disk.
func (r *Result) Updated() bool {
	return r.Installed != nil && len(r.Applied) > 0
}

// Orchestrator owns updates of a single install root.
type Orchestrator struct {
	root   *installroot.Root
	dl     Downloader
	runner hooks.Runner
	opts   Options
	state  State
}
