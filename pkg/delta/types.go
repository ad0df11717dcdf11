package delta

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/djcass44/upkeep/pkg/deltacodec"
)

const (
	DescriptorName = "delta.ctl"
	DeletedName    = "delta.deleted"
	PatchDir       = "patch"

	diffSuffix   = ".diff"
	shasumSuffix = ".shasum"
)

var (
	ErrBaseFileMissing        = errors.New("base file missing")
	ErrReconstructionMismatch = errors.New("reconstructed package does not match the expected hash")
)

// Descriptor ties a delta to the base it was built against
// and the full package it reproduces.
type Descriptor struct {
	BaseVersion string `control:"Base-Version"`
	BaseSha1    string `control:"Base-Sha1"`
	TargetSha1  string `control:"Target-Sha1"`
	TargetSize  int    `control:"Target-Size"`
}

type Options struct {
	Codec deltacodec.Options
	// Concurrency limits how many files are processed at once.
	// Zero uses the number of CPUs.
	Concurrency int
}

// shasum is the record stored next to every patch.
type shasum struct {
	sha1 string
	name string
	size int64
}

func (s shasum) String() string {
	return s.sha1 + " " + s.name + " " + strconv.FormatInt(s.size, 10)
}

func parseShasum(data []byte) (shasum, error) {
	line := strings.TrimSpace(string(data))
	first := strings.IndexByte(line, ' ')
	last := strings.LastIndexByte(line, ' ')
	if first <= 0 || last <= first {
		return shasum{}, fmt.Errorf("%w: malformed shasum %q", deltacodec.ErrPatchCorrupt, line)
	}
	size, err := strconv.ParseInt(line[last+1:], 10, 64)
	if err != nil {
		return shasum{}, fmt.Errorf("%w: malformed shasum %q", deltacodec.ErrPatchCorrupt, line)
	}
	return shasum{sha1: line[:first], name: line[first+1 : last], size: size}, nil
}

// fileResult is produced by a single worker and merged into
// the output archive afterwards.
type fileResult struct {
	path string
	mode os.FileMode
	data []byte
	// entries destined for the delta archive
	diff   []byte
	shasum *shasum
}
