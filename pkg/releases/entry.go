package releases

import (
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
)

// NewEntry creates an entry and derives the package identifier,
// version and delta flag from the filename.
func NewEntry(sha1, filename string, size int64) (*Entry, error) {
	if err := validateHash(sha1); err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, fmt.Errorf("negative size: %d", size)
	}
	id, v, isDelta, err := ParseFilename(filename)
	if err != nil {
		return nil, err
	}
	return &Entry{
		SHA1:     sha1,
		Filename: filename,
		Size:     size,
		ID:       id,
		Version:  v,
		IsDelta:  isDelta,
	}, nil
}

// ParseFilename splits a package filename of the form
// <id>.<semver>-full.<ext> or <id>.<semver>-delta.<ext>.
func ParseFilename(filename string) (string, *version.Version, bool, error) {
	if filename == "" || strings.ContainsAny(filename, `/\ `) {
		return "", nil, false, fmt.Errorf("invalid package filename: %q", filename)
	}
	ext := path.Ext(filename)
	if ext == "" || ext == "." {
		return "", nil, false, fmt.Errorf("package filename has no extension: %q", filename)
	}
	stem := strings.TrimSuffix(filename, ext)

	var isDelta bool
	switch {
	case strings.HasSuffix(stem, suffixDelta):
		isDelta = true
		stem = strings.TrimSuffix(stem, suffixDelta)
	case strings.HasSuffix(stem, suffixFull):
		stem = strings.TrimSuffix(stem, suffixFull)
	default:
		return "", nil, false, fmt.Errorf("package filename is neither full nor delta: %q", filename)
	}

	// the identifier may itself contain dots, so we split
	// on the leftmost dot that is followed by a version
	for i := 0; i < len(stem); i++ {
		if stem[i] != '.' || i == 0 {
			continue
		}
		v, err := version.NewSemver(stem[i+1:])
		if err != nil {
			continue
		}
		return stem[:i], v, isDelta, nil
	}
	return "", nil, false, fmt.Errorf("package filename does not contain a version: %q", filename)
}

// Filename builds the conventional package filename. The
// version is written in canonical form, so 1.0 and 1.0.0 share
// one filename.
func Filename(id string, v *version.Version, isDelta bool, ext string) string {
	if ext == "" {
		ext = DefaultExtension
	}
	suffix := suffixFull
	if isDelta {
		suffix = suffixDelta
	}
	return fmt.Sprintf("%s.%s%s.%s", id, v.String(), suffix, strings.TrimPrefix(ext, "."))
}

// ValidateID checks that packages of id can be told apart from
// their version once written as a filename. An identifier such
// as "app.2" followed by version 1.0.0 would read back as "app"
// at 2.1.0.0.
func ValidateID(id string, v *version.Version) error {
	if id == "" || strings.ContainsAny(id, `/\ `) {
		return fmt.Errorf("invalid package identifier: %q", id)
	}
	gotID, gotVersion, _, err := ParseFilename(Filename(id, v, false, ""))
	if err != nil {
		return err
	}
	if gotID != id || !gotVersion.Equal(v) {
		return fmt.Errorf("package identifier %q is ambiguous: its filename reads back as %q at %s", id, gotID, gotVersion.String())
	}
	return nil
}

// FullFilename returns the name of the full package that
// shares this entry's identifier and version.
func (e *Entry) FullFilename() string {
	if !e.IsDelta {
		return e.Filename
	}
	return strings.Replace(e.Filename, suffixDelta+".", suffixFull+".", 1)
}

func (e *Entry) Key() Key {
	return Key{ID: e.ID, Version: e.Version.String(), IsDelta: e.IsDelta}
}

// String renders the entry as a manifest line.
func (e *Entry) String() string {
	sb := strings.Builder{}
	sb.WriteString(e.SHA1)
	sb.WriteString(" ")
	sb.WriteString(e.Filename)
	sb.WriteString(" ")
	sb.WriteString(strconv.FormatInt(e.Size, 10))
	if e.BaseURL != "" {
		sb.WriteString(" ")
		sb.WriteString(e.BaseURL)
	}
	if e.Query != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Query)
	}
	return sb.String()
}

// URL resolves where the package can be downloaded from. The
// entry's own base URL wins over the one supplied by the caller.
func (e *Entry) URL(source string) string {
	base := e.BaseURL
	if base == "" {
		base = source
	}
	u := e.Filename
	if base != "" {
		u = strings.TrimSuffix(base, "/") + "/" + e.Filename
	}
	return u + e.Query
}

// HashEquals compares the entry hash against a hex digest.
func (e *Entry) HashEquals(sha1 string) bool {
	return strings.EqualFold(e.SHA1, sha1)
}

// ParseEntry parses a single manifest line.
func ParseEntry(line string) (*Entry, error) {
	line = strings.TrimSuffix(line, "\r")
	fields := strings.Split(line, " ")
	if len(fields) < 3 || len(fields) > 5 {
		return nil, fmt.Errorf("expected between 3 and 5 fields, got %d", len(fields))
	}
	for _, f := range fields {
		if f == "" {
			return nil, errors.New("fields must be separated by a single space")
		}
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid length %q: %w", fields[2], err)
	}
	entry, err := NewEntry(fields[0], fields[1], size)
	if err != nil {
		return nil, err
	}

	rest := fields[3:]
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "?") {
		entry.BaseURL = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 {
		if !strings.HasPrefix(rest[0], "?") {
			return nil, fmt.Errorf("query must start with '?': %q", rest[0])
		}
		entry.Query = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("unexpected trailing field: %q", rest[0])
	}
	return entry, nil
}

func validateHash(s string) error {
	if len(s) != 40 {
		return fmt.Errorf("hash must be 40 hex characters, got %d", len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return fmt.Errorf("hash is not hex: %w", err)
	}
	return nil
}
