package releases

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-logr/logr"
	"github.com/natefinch/atomic"
)

// Read loads a manifest from disk. Malformed lines are logged
// and skipped. A missing file is an empty manifest.
func Read(ctx context.Context, path string) (*Manifest, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("path", path)
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.V(1).Info("manifest does not exist, treating as empty")
			return NewManifest()
		}
		log.Error(err, "failed to open manifest")
		return nil, err
	}
	return Decode(ctx, data), nil
}

// Decode parses manifest bytes leniently, logging any
// malformed lines.
func Decode(ctx context.Context, data []byte) *Manifest {
	log := logr.FromContextOrDiscard(ctx)
	m, errs := ParseLenient(bytes.NewReader(data))
	for _, err := range errs {
		log.Info("skipping malformed manifest line", "error", err.Error())
	}
	log.V(2).Info("decoded manifest", "count", m.Len(), "skipped", len(errs))
	return m
}

// Write atomically replaces the manifest at path. The rendered
// output is parsed strictly before being written.
func Write(ctx context.Context, path string, m *Manifest) error {
	log := logr.FromContextOrDiscard(ctx).WithValues("path", path)
	data := m.Bytes()
	if _, err := Parse(bytes.NewReader(data)); err != nil {
		log.Error(err, "refusing to write malformed manifest")
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}
	log.V(1).Info("writing manifest", "count", m.Len())
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		log.Error(err, "failed to write manifest")
		return err
	}
	return nil
}

// BuildFromDirectory hashes every package in dir and writes a
// fresh manifest next to them.
func BuildFromDirectory(ctx context.Context, dir string) (*Manifest, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("dir", dir)

	files, err := filepath.Glob(filepath.Join(dir, "*."+DefaultExtension))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var entries []*Entry
	for _, f := range files {
		e, err := FromFile(f)
		if err != nil {
			log.Error(err, "failed to generate manifest entry", "file", f)
			return nil, fmt.Errorf("hashing %s: %w", f, err)
		}
		entries = append(entries, e)
	}
	sortEntries(entries)
	m, err := NewManifest(entries...)
	if err != nil {
		return nil, err
	}
	if err := Write(ctx, filepath.Join(dir, FileName), m); err != nil {
		return nil, err
	}
	log.Info("generated manifest", "count", m.Len())
	return m, nil
}

// sortEntries orders by version, deltas before fulls of the
// same version.
func sortEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		if c := a.Version.Compare(b.Version); c != 0 {
			return c < 0
		}
		return a.IsDelta && !b.IsDelta
	})
}
