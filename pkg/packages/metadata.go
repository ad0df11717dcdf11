package packages

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/djcass44/upkeep/pkg/releases"
	"github.com/hashicorp/go-version"
	"pault.ag/go/debian/control"
)

// EncodeMetadata renders the descriptor. The output is stable
// for a given value.
func EncodeMetadata(md Metadata) ([]byte, error) {
	if err := md.Validate(); err != nil {
		return nil, err
	}
	md.Description = oneLine(md.Description)
	md.ReleaseNotes = oneLine(md.ReleaseNotes)
	buf := bytes.Buffer{}
	if err := control.Marshal(&buf, md); err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeMetadata parses a descriptor.
func DecodeMetadata(data []byte) (Metadata, error) {
	var md Metadata
	if err := control.Unmarshal(&md, bytes.NewReader(data)); err != nil {
		return Metadata{}, fmt.Errorf("decoding metadata: %w", err)
	}
	md.Runtimes = compact(md.Runtimes)
	md.Hooks = compact(md.Hooks)
	if err := md.Validate(); err != nil {
		return Metadata{}, err
	}
	return md, nil
}

func (md *Metadata) Validate() error {
	if md.Package == "" {
		return errors.New("metadata is missing the package identifier")
	}
	v, err := version.NewSemver(md.Version)
	if err != nil {
		return fmt.Errorf("invalid package version %q: %w", md.Version, err)
	}
	return releases.ValidateID(md.Package, v)
}

func (md *Metadata) SemVer() *version.Version {
	v, _ := version.NewSemver(md.Version)
	return v
}

// Filename returns the conventional filename for this
// package.
func (md *Metadata) Filename(isDelta bool) string {
	return releases.Filename(md.Package, md.SemVer(), isDelta, "")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
