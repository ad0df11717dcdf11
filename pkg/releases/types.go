package releases

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-version"
)

// FileName is the name of the manifest inside a
// packages directory.
const FileName = "RELEASES"

const (
	// DefaultExtension is used when building package filenames.
	DefaultExtension = "upkg"

	suffixFull  = "-full"
	suffixDelta = "-delta"
)

var ErrManifestParse = errors.New("malformed manifest entry")

// ParseError describes a single manifest line that could
// not be understood.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %q: %s", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrManifestParse, e.Err}
}

// Entry is a single line of the manifest.
type Entry struct {
	SHA1     string
	Filename string
	Size     int64
	BaseURL  string
	Query    string

	// derived from Filename
	ID      string
	Version *version.Version
	IsDelta bool
}

// Key uniquely identifies an entry within a manifest.
type Key struct {
	ID      string
	Version string
	IsDelta bool
}

// Manifest is an insertion-ordered set of entries.
type Manifest struct {
	entries []*Entry
	index   map[Key]int
}
