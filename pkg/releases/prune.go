package releases

import (
	"sort"

	"github.com/hashicorp/go-version"
)

// Prune returns a copy of the manifest containing only the
// newest keep versions of each package. Entries that were
// removed are returned so their files can be deleted.
func Prune(m *Manifest, keep int) (*Manifest, []*Entry) {
	if keep <= 0 {
		out, _ := NewManifest(m.Entries()...)
		return out, nil
	}

	versions := map[string][]*version.Version{}
	seen := map[Key]bool{}
	for _, e := range m.entries {
		k := Key{ID: e.ID, Version: e.Version.String()}
		if seen[k] {
			continue
		}
		seen[k] = true
		versions[e.ID] = append(versions[e.ID], e.Version)
	}

	retained := map[Key]bool{}
	for id, vs := range versions {
		sort.Slice(vs, func(i, j int) bool {
			return vs[i].GreaterThan(vs[j])
		})
		for i := 0; i < len(vs) && i < keep; i++ {
			retained[Key{ID: id, Version: vs[i].String()}] = true
		}
	}

	out := &Manifest{index: map[Key]int{}}
	var removed []*Entry
	for _, e := range m.entries {
		if retained[Key{ID: e.ID, Version: e.Version.String()}] {
			_ = out.Add(e)
			continue
		}
		removed = append(removed, e)
	}
	return out, removed
}
