package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/djcass44/upkeep/pkg/releases"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-version"
)

// Resolve computes the releases that take current to the target
// version of package id. A nil current means nothing is
// installed yet. The result only depends on the inputs.
func Resolve(ctx context.Context, id string, current *releases.Entry, m *releases.Manifest, opts Options) (*UpdateInfo, error) {
	if id == "" && current != nil {
		id = current.ID
	}
	log := logr.FromContextOrDiscard(ctx).WithValues("id", id)
	info := &UpdateInfo{Current: current, Future: current}

	versions := versionsOf(m, id)
	if len(versions) == 0 {
		log.V(1).Info("manifest has no releases for package")
		return info, nil
	}

	target := opts.Target
	if target == nil {
		target = latest(versions, opts.AllowPrerelease)
		if target == nil {
			log.V(1).Info("manifest only contains prereleases")
			return info, nil
		}
	} else if !containsVersion(versions, target) {
		return nil, fmt.Errorf("%w: %s %s", ErrVersionNotFound, id, target.Original())
	}
	log = log.WithValues("target", target.Original())

	full, hasFull := m.Full(id, target)
	info.LatestIsFull = hasFull

	if current != nil && current.Version.GreaterThanOrEqual(target) {
		log.V(1).Info("installed version is up to date", "current", current.Version.Original())
		return info, nil
	}

	if current == nil {
		if !hasFull {
			return nil, fmt.Errorf("%w: no full package for %s %s", ErrOnlyDeltaAvailable, id, target.Original())
		}
		log.V(1).Info("selected full package for first install")
		info.ReleasesToApply = []*releases.Entry{full}
		info.Future = full
		return info, nil
	}

	if !anyFull(m, id) {
		return nil, fmt.Errorf("%w: %s", ErrOnlyDeltaAvailable, id)
	}

	chain, chainSize, ok := deltaChain(m, id, versions, current.Version, target)
	switch {
	case ok && !opts.ForceFull && (!hasFull || chainSize < full.Size):
		log.V(1).Info("selected delta chain", "length", len(chain), "size", chainSize)
		info.ReleasesToApply = chain
		info.Future = chain[len(chain)-1]
		if hasFull {
			info.Future = full
		}
	case hasFull:
		log.V(1).Info("selected full package", "size", full.Size, "chainComplete", ok, "chainSize", chainSize)
		info.ReleasesToApply = []*releases.Entry{full}
		info.Future = full
	default:
		return nil, fmt.Errorf("%w: delta chain from %s to %s is incomplete", ErrOnlyDeltaAvailable, current.Version.Original(), target.Original())
	}
	return info, nil
}

// deltaChain collects one delta for every version in
// (from, to]. It fails when any version in that range lacks
// a delta, or when from itself is no longer listed.
func deltaChain(m *releases.Manifest, id string, versions []*version.Version, from, to *version.Version) ([]*releases.Entry, int64, bool) {
	if !containsVersion(versions, from) {
		return nil, 0, false
	}
	var chain []*releases.Entry
	var size int64
	for _, v := range versions {
		if !v.GreaterThan(from) || v.GreaterThan(to) {
			continue
		}
		e, ok := m.Delta(id, v)
		if !ok {
			return nil, 0, false
		}
		chain = append(chain, e)
		size += e.Size
	}
	return chain, size, len(chain) > 0
}

// versionsOf returns the distinct versions of id in ascending
// order.
func versionsOf(m *releases.Manifest, id string) []*version.Version {
	seen := map[string]struct{}{}
	var out []*version.Version
	for _, e := range m.Entries() {
		if e.ID != id {
			continue
		}
		if _, ok := seen[e.Version.String()]; ok {
			continue
		}
		seen[e.Version.String()] = struct{}{}
		out = append(out, e.Version)
	}
	sort.Sort(version.Collection(out))
	return out
}

func latest(versions []*version.Version, allowPrerelease bool) *version.Version {
	for i := len(versions) - 1; i >= 0; i-- {
		if allowPrerelease || versions[i].Prerelease() == "" {
			return versions[i]
		}
	}
	return nil
}

func containsVersion(versions []*version.Version, v *version.Version) bool {
	for _, o := range versions {
		if o.Equal(v) {
			return true
		}
	}
	return false
}

func anyFull(m *releases.Manifest, id string) bool {
	for _, e := range m.Entries() {
		if e.ID == id && !e.IsDelta {
			return true
		}
	}
	return false
}

// Installed returns the newest full release of id in a local
// manifest, or nil when there is none.
func Installed(m *releases.Manifest, id string) *releases.Entry {
	var out *releases.Entry
	for _, e := range m.Entries() {
		if e.ID != id || e.IsDelta {
			continue
		}
		if out == nil || e.Version.GreaterThan(out.Version) {
			out = e
		}
	}
	return out
}
