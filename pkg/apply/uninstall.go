package apply

import (
	"context"

	"github.com/djcass44/upkeep/pkg/hooks"
	"github.com/go-logr/logr"
)

// Uninstall notifies the hooks of the current version, removes
// everything under the root and leaves a tombstone. Hook
// failures are returned as warnings.
func (o *Orchestrator) Uninstall(ctx context.Context) ([]*hooks.Failure, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("id", o.root.ID(), "root", o.root.Path())
	lock, err := o.root.Lock(ctx, o.opts.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	if o.root.IsDead() {
		log.Info("already uninstalled")
		return nil, nil
	}
	var warnings []*hooks.Failure
	current, err := o.root.Current()
	if err != nil {
		log.Error(err, "failed to read current version")
	}
	if current != nil {
		warnings = o.runVersionHooks(ctx, current, o.root.VersionDir(current), hooks.FlagUninstall)
	}

	log.Info("removing installation")
	if err := o.root.RemoveVersions(ctx); err != nil {
		log.Error(err, "failed to remove installed versions")
		return warnings, err
	}
	if err := o.root.Reset(ctx); err != nil {
		log.Error(err, "failed to clear install root")
		return warnings, err
	}
	if err := o.root.MarkDead(); err != nil {
		log.Error(err, "failed to write tombstone")
		return warnings, err
	}
	return warnings, nil
}
