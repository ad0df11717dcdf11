package releases

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hashicorp/go-version"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func NewManifest(entries ...*Entry) (*Manifest, error) {
	m := &Manifest{index: map[Key]int{}}
	for _, e := range entries {
		if err := m.Add(e); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add appends an entry. It fails if an entry with the same
// identifier, version and delta flag is already present.
func (m *Manifest) Add(e *Entry) error {
	if m.index == nil {
		m.index = map[Key]int{}
	}
	k := e.Key()
	if _, ok := m.index[k]; ok {
		return fmt.Errorf("duplicate entry for %s", e.Filename)
	}
	m.index[k] = len(m.entries)
	m.entries = append(m.entries, e)
	return nil
}

// Put adds an entry, replacing any existing entry with the
// same key in place.
func (m *Manifest) Put(e *Entry) {
	if m.index == nil {
		m.index = map[Key]int{}
	}
	if i, ok := m.index[e.Key()]; ok {
		m.entries[i] = e
		return
	}
	_ = m.Add(e)
}

// Remove drops the entry with the given key, if present.
func (m *Manifest) Remove(k Key) bool {
	i, ok := m.index[k]
	if !ok {
		return false
	}
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	m.reindex()
	return true
}

func (m *Manifest) reindex() {
	m.index = make(map[Key]int, len(m.entries))
	for i, e := range m.entries {
		m.index[e.Key()] = i
	}
}

func (m *Manifest) Len() int {
	return len(m.entries)
}

// Entries returns the entries in insertion order.
func (m *Manifest) Entries() []*Entry {
	out := make([]*Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *Manifest) Get(k Key) (*Entry, bool) {
	i, ok := m.index[k]
	if !ok {
		return nil, false
	}
	return m.entries[i], true
}

// Full returns the full package entry for a version.
func (m *Manifest) Full(id string, v *version.Version) (*Entry, bool) {
	return m.Get(Key{ID: id, Version: v.String()})
}

// Delta returns the delta package entry for a version.
func (m *Manifest) Delta(id string, v *version.Version) (*Entry, bool) {
	return m.Get(Key{ID: id, Version: v.String(), IsDelta: true})
}

// IDs returns the distinct package identifiers, sorted.
func (m *Manifest) IDs() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, e := range m.entries {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e.ID)
	}
	sort.Strings(out)
	return out
}

// Format renders the manifest with one entry per line, in
// insertion order.
func (m *Manifest) Format(w io.Writer) error {
	for _, e := range m.entries {
		if _, err := io.WriteString(w, e.String()+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manifest) Bytes() []byte {
	buf := bytes.Buffer{}
	_ = m.Format(&buf)
	return buf.Bytes()
}

// Parse reads a manifest and fails on the first malformed line.
// It is used when verifying a manifest we are about to write.
func Parse(r io.Reader) (*Manifest, error) {
	m, errs := parse(r, true)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return m, nil
}

// ParseLenient reads a manifest, skipping malformed lines. The
// skipped lines are returned so that callers can report them.
func ParseLenient(r io.Reader) (*Manifest, []error) {
	return parse(r, false)
}

func parse(r io.Reader, strict bool) (*Manifest, []error) {
	m := &Manifest{index: map[Key]int{}}
	var errs []error

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		raw := scanner.Bytes()
		if n == 1 {
			raw = bytes.TrimPrefix(raw, utf8BOM)
		}
		line := strings.TrimSuffix(string(raw), "\r")
		if trimmed := strings.TrimSpace(line); trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		entry, err := ParseEntry(line)
		if err == nil {
			err = m.Add(entry)
		}
		if err != nil {
			errs = append(errs, &ParseError{Line: n, Text: line, Err: err})
			if strict {
				return nil, errs
			}
		}
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, fmt.Errorf("reading manifest: %w", err))
		if strict {
			return nil, errs
		}
	}
	return m, errs
}

// IsParseError reports whether err came from a malformed line.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
