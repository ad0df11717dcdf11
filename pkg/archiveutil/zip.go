package archiveutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// FixedTime is stamped on every entry so that archives
// built from the same input are byte-for-byte identical.
var FixedTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Writer produces reproducible zip archives.
type Writer struct {
	zw *zip.Writer
}

func NewWriter(w io.Writer) *Writer {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})
	return &Writer{zw: zw}
}

// WriteFile adds a regular file entry.
func (w *Writer) WriteFile(name string, mode os.FileMode, data []byte) error {
	h := &zip.FileHeader{Name: SanitizePath(name), Method: zip.Deflate}
	h.SetMode(mode.Perm())
	h.Modified = FixedTime

	fw, err := w.zw.CreateHeader(h)
	if err != nil {
		return fmt.Errorf("creating entry %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("writing entry %s: %w", name, err)
	}
	return nil
}

// WriteDir adds a directory entry.
func (w *Writer) WriteDir(name string, mode os.FileMode) error {
	h := &zip.FileHeader{Name: SanitizePath(name) + "/", Method: zip.Store}
	h.SetMode(os.ModeDir | mode.Perm())
	h.Modified = FixedTime

	if _, err := w.zw.CreateHeader(h); err != nil {
		return fmt.Errorf("creating directory entry %s: %w", name, err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.zw.Close()
}

// SanitizePath normalises an entry name: forward slashes, no
// drive letter, no leading slash and no ".." escaping the root.
func SanitizePath(p string) string {
	s := filepath.ToSlash(p)
	if len(s) > 1 && s[1] == ':' {
		s = s[2:]
	}
	s = strings.TrimLeft(s, "/")
	parts := strings.Split(s, "/")
	stack := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		if part == ".." {
			if n := len(stack); n > 0 {
				stack = stack[:n-1]
			}
			continue
		}
		stack = append(stack, part)
	}
	return strings.Join(stack, "/")
}

// Unzip expands every entry under prefix into dst on the given
// filesystem. The prefix is stripped from the extracted paths.
func Unzip(ctx context.Context, r *zip.Reader, prefix string, fs afero.Fs, dst string) error {
	log := logr.FromContextOrDiscard(ctx).WithValues("path", dst, "prefix", prefix)
	prefix = strings.TrimSuffix(SanitizePath(prefix), "/")
	if prefix != "" {
		prefix += "/"
	}

	if err := fs.MkdirAll(dst, 0755); err != nil {
		log.Error(err, "failed to create extraction directory")
		return err
	}

	for _, f := range r.File {
		name := SanitizePath(f.Name)
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rel := strings.TrimPrefix(name, prefix)
		if rel == "" {
			continue
		}
		target := filepath.Join(dst, filepath.FromSlash(path.Clean(rel)))

		if f.FileInfo().IsDir() {
			log.V(5).Info("creating directory", "target", target)
			if err := fs.MkdirAll(target, 0755); err != nil {
				log.Error(err, "failed to create directory", "target", target)
				return err
			}
			continue
		}

		log.V(5).Info("creating file", "target", target, "mode", f.Mode())
		if err := fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
			log.Error(err, "failed to create parent directory", "target", target)
			return err
		}
		if err := extractFile(f, fs, target); err != nil {
			log.Error(err, "failed to extract file", "target", target)
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, fs afero.Fs, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	out, err := fs.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
