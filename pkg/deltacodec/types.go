package deltacodec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPatchCorrupt      = errors.New("patch is corrupt")
	ErrPatchBaseMismatch = errors.New("patch does not apply to this base")
)

// Magic opens every patch.
const Magic = "UPKDIFF1"

// DefaultMaxPatchRatio is the size of an encoded patch, relative
// to the new content, above which the new content is stored
// verbatim instead.
const DefaultMaxPatchRatio = 0.75

const headerSize = len(Magic) + 2 + 20 + 20

type Mode byte

const (
	ModeOps Mode = iota
	ModeVerbatim
)

func (m Mode) String() string {
	switch m {
	case ModeOps:
		return "ops"
	case ModeVerbatim:
		return "verbatim"
	default:
		return fmt.Sprintf("mode(%d)", byte(m))
	}
}

type Compression byte

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionXZ
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionXZ:
		return "xz"
	default:
		return fmt.Sprintf("compression(%d)", byte(c))
	}
}

// ParseCompression converts a configuration value into a
// Compression. An empty string selects zstd.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "zstd":
		return CompressionZstd, nil
	case "xz":
		return CompressionXZ, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("unknown patch compression: %q", s)
	}
}

type Options struct {
	// MaxPatchRatio defaults to DefaultMaxPatchRatio when zero.
	MaxPatchRatio float64
	Compression   Compression
}

func DefaultOptions() Options {
	return Options{
		MaxPatchRatio: DefaultMaxPatchRatio,
		Compression:   CompressionZstd,
	}
}

// Header is the fixed-size prefix of a patch.
type Header struct {
	Mode        Mode
	Compression Compression
	OldSum      [20]byte
	NewSum      [20]byte
	NewSize     uint64
}
