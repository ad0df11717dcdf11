package hooks

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/djcass44/upkeep/pkg/archiveutil"
	"github.com/go-logr/logr"
)

const maxOutputLen = 200

var _ Runner = &ExecRunner{}

// ExecRunner runs hooks as child processes, one at a time.
type ExecRunner struct {
	Timeout time.Duration
}

func NewExecRunner(timeout time.Duration) *ExecRunner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecRunner{Timeout: timeout}
}

func (r *ExecRunner) Discover(ctx context.Context, dir string, declared []string) ([]Hook, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("dir", dir)
	var out []Hook
	for _, rel := range declared {
		clean := archiveutil.SanitizePath(rel)
		if clean == "" {
			continue
		}
		path := filepath.Join(dir, filepath.FromSlash(clean))
		fi, err := os.Stat(path)
		if err != nil {
			log.V(1).Info("declared hook is missing", "hook", rel)
			continue
		}
		if !fi.Mode().IsRegular() || fi.Mode().Perm()&0111 == 0 {
			log.V(1).Info("declared hook is not executable", "hook", rel, "mode", fi.Mode())
			continue
		}
		out = append(out, Hook{Path: path, Capabilities: AllFlags})
	}
	log.V(2).Info("discovered hooks", "count", len(out))
	return out, nil
}

func (r *ExecRunner) Run(ctx context.Context, hook Hook, flag Flag, version string) error {
	log := logr.FromContextOrDiscard(ctx).WithValues("hook", hook.Path, "flag", flag, "version", version)
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info("running lifecycle hook")
	//nolint:gosec // G204: hooks are executables shipped inside the package
	cmd := exec.CommandContext(ctx, hook.Path, string(flag), version)
	cmd.Dir = filepath.Dir(hook.Path)
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("timed out after %s: %w", timeout, ctx.Err())
		}
		snippet := strings.TrimSpace(string(out))
		if len(snippet) > maxOutputLen {
			snippet = snippet[:maxOutputLen] + "..."
		}
		log.Error(err, "failed to run lifecycle hook", "output", snippet)
		return &Failure{Hook: hook, Flag: flag, Err: fmt.Errorf("%w: %w (output: %s)", ErrHookFailure, err, snippet)}
	}
	log.V(1).Info("lifecycle hook completed")
	return nil
}

// RunAll invokes every hook that supports flag, sequentially.
// Failures are collected rather than returned early.
func RunAll(ctx context.Context, r Runner, hooks []Hook, flag Flag, version string) []*Failure {
	var failures []*Failure
	for _, h := range hooks {
		if !h.Supports(flag) {
			continue
		}
		if err := r.Run(ctx, h, flag, version); err != nil {
			f, ok := err.(*Failure)
			if !ok {
				f = &Failure{Hook: h, Flag: flag, Err: fmt.Errorf("%w: %w", ErrHookFailure, err)}
			}
			failures = append(failures, f)
		}
	}
	return failures
}
