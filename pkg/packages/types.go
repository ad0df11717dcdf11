package packages

import (
	"errors"
	"os"

	"github.com/hashicorp/go-version"
	"github.com/klauspost/compress/zip"
)

const (
	// MetadataName is the descriptor entry at the root
	// of every package.
	MetadataName = "package.ctl"
	// PayloadDir holds the application files.
	PayloadDir = "payload"
)

var ErrCorruptArchive = errors.New("corrupt package archive")

// Metadata is the package descriptor, stored as a
// control paragraph.
type Metadata struct {
	Package      string
	Version      string
	Title        string
	Description  string
	Authors      string
	Architecture string
	IconURL      string   `control:"Icon-Url"`
	Runtimes     []string `control:"Runtime-Dependencies" delim:", "`
	ReleaseNotes string   `control:"Release-Notes"`
	// Hooks lists payload-relative executables that opt in
	// to lifecycle notifications.
	Hooks []string `control:"Lifecycle-Hooks" delim:", "`
}

// File describes a single payload entry.
type File struct {
	Path  string
	Size  int64
	Mode  os.FileMode
	IsDir bool
}

// Archive is an opened package.
type Archive struct {
	path     string
	zr       *zip.ReadCloser
	files    map[string]*zip.File
	raw      []byte
	metadata Metadata
	version  *version.Version
}
