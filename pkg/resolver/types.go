package resolver

import (
	"errors"

	"github.com/djcass44/upkeep/pkg/releases"
	"github.com/hashicorp/go-version"
)

var (
	ErrOnlyDeltaAvailable = errors.New("only delta packages are available and there is no full package to fall back to")
	ErrVersionNotFound    = errors.New("requested version is not in the manifest")
)

// UpdateInfo is the resolved plan for moving an installation
// to a newer version.
type UpdateInfo struct {
	// Current is the installed release, or nil on first install.
	Current *releases.Entry
	// ReleasesToApply is ordered by ascending version. It is
	// empty when no update is available.
	ReleasesToApply []*releases.Entry
	// Future is the release that will be installed once the
	// plan has been applied.
	Future *releases.Entry
	// LatestIsFull reports whether the target version has a
	// full package in the manifest.
	LatestIsFull bool
}

// HasUpdate reports whether anything needs to be applied.
func (u *UpdateInfo) HasUpdate() bool {
	return len(u.ReleasesToApply) > 0
}

// IsDeltaChain reports whether the plan consists of delta
// packages only.
func (u *UpdateInfo) IsDeltaChain() bool {
	if !u.HasUpdate() {
		return false
	}
	for _, e := range u.ReleasesToApply {
		if !e.IsDelta {
			return false
		}
	}
	return true
}

// TotalSize is the number of bytes the plan will download
// at most.
func (u *UpdateInfo) TotalSize() int64 {
	var n int64
	for _, e := range u.ReleasesToApply {
		n += e.Size
	}
	return n
}

type Options struct {
	// Target overrides the newest available version.
	Target *version.Version
	// AllowPrerelease lets the newest prerelease become the
	// target when Target is unset.
	AllowPrerelease bool
	// ForceFull skips delta chains entirely.
	ForceFull bool
}
