package publish

import (
	"errors"

	"github.com/djcass44/upkeep/pkg/delta"
	"github.com/djcass44/upkeep/pkg/releases"
)

var ErrReleaseExists = errors.New("release already exists")

type Options struct {
	Delta delta.Options
	// Keep is the number of versions retained in the output
	// directory. Zero keeps everything.
	Keep int
	// SkipDelta disables building a delta against the
	// previous full package.
	SkipDelta bool
}

// Result describes what a Pack call added to and removed from
// the release directory.
type Result struct {
	Full  *releases.Entry
	Delta *releases.Entry
	// Removed lists entries dropped by retention.
	Removed  []*releases.Entry
	Manifest *releases.Manifest
}
