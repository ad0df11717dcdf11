package installroot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/gofrs/flock"
)

const lockRetryDelay = 100 * time.Millisecond

// Lock is a held system-wide update lock.
type Lock struct {
	fl *flock.Flock
}

func (l *Lock) Unlock() error {
	return l.fl.Unlock()
}

func (r *Root) LockPath() string {
	return filepath.Join(r.LockDir, "upkeep-"+r.id+".lock")
}

// Lock acquires the update lock for this application, waiting
// up to timeout. ErrLockTimeout is returned if another process
// holds it for longer.
func (r *Root) Lock(ctx context.Context, timeout time.Duration) (*Lock, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("path", r.LockPath())
	if err := os.MkdirAll(r.LockDir, 0755); err != nil {
		return nil, err
	}
	fl := flock.New(r.LockPath())

	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.V(2).Info("acquiring update lock", "timeout", timeout)
	ok, err := fl.TryLockContext(lctx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Error(err, "failed to acquire update lock")
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !ok {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, r.id)
	}
	log.V(2).Info("acquired update lock")
	return &Lock{fl: fl}, nil
}
