package hooks

import (
	"context"
	"errors"
	"slices"
	"time"
)

var ErrHookFailure = errors.New("lifecycle hook failed")

const DefaultTimeout = 15 * time.Second

// Flag is the first argument passed to a hook.
type Flag string

const (
	FlagInstall   Flag = "--install"
	FlagUpdate    Flag = "--update"
	FlagObsolete  Flag = "--obsolete"
	FlagUninstall Flag = "--uninstall"
)

// AllFlags is the capability set of a hook that does not
// narrow its own.
var AllFlags = []Flag{FlagInstall, FlagUpdate, FlagObsolete, FlagUninstall}

// Hook is an executable that opted in to lifecycle
// notifications.
type Hook struct {
	// Path is absolute.
	Path         string
	Capabilities []Flag
}

func (h Hook) Supports(f Flag) bool {
	return slices.Contains(h.Capabilities, f)
}

// Runner finds and invokes lifecycle hooks.
type Runner interface {
	// Discover returns the hooks inside a version directory.
	// declared lists the candidates named by the package.
	Discover(ctx context.Context, dir string, declared []string) ([]Hook, error)
	// Run invokes a hook with a flag and the version it
	// concerns.
	Run(ctx context.Context, hook Hook, flag Flag, version string) error
}

// Failure records a hook that did not complete.
type Failure struct {
	Hook Hook
	Flag Flag
	Err  error
}

func (f *Failure) Error() string {
	return f.Hook.Path + " " + string(f.Flag) + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}
