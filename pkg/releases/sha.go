package releases

import (
	"crypto/sha1" //nolint:gosec // the manifest format is defined in terms of SHA1
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
)

// Sha1 returns the hex encoded SHA1 digest of a file along
// with its size.
func Sha1(path string) (string, int64, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha1.New() //nolint:gosec
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Sha1Bytes returns the hex encoded SHA1 digest of b.
func Sha1Bytes(b []byte) string {
	sum := sha1.Sum(b) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// FromFile hashes a package file on disk and creates
// its entry.
func FromFile(path string) (*Entry, error) {
	digest, size, err := Sha1(path)
	if err != nil {
		return nil, err
	}
	return NewEntry(digest, filepath.Base(path), size)
}
