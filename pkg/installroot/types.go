package installroot

import (
	"errors"
)

const (
	PackagesDir = "packages"
	StagingDir  = "staging"
	CurrentLink = "current"
	DeadFile    = ".dead"

	digestExt   = ".digest"
	metadataExt = ".ctl"
	digestAlgo  = "sha256"
)

var (
	ErrLockTimeout    = errors.New("another update is already in progress")
	ErrDigestMismatch = errors.New("installed files do not match the recorded digest")
	ErrNotInstalled   = errors.New("nothing is installed")
)

// Root is the on-disk home of one application. It holds no
// state beyond its paths, so any number of handles may point
// at the same directory.
type Root struct {
	path string
	id   string
	// LockDir is where the system-wide lock file lives.
	LockDir string
}
