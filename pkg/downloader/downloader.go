package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/hashicorp/go-getter"
	"github.com/hashicorp/go-retryablehttp"
	"k8s.io/apimachinery/pkg/util/wait"
)

func NewDownloader(ctx context.Context, opts Options) *Downloader {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	client := retryablehttp.NewClient()
	client.RetryMax = opts.Retries
	client.RetryWaitMin = opts.Delay
	client.RetryWaitMax = opts.Delay * 8
	client.Logger = &leveledLogger{log: logr.FromContextOrDiscard(ctx).WithName("http")}

	return &Downloader{
		client: client,
		backoff: wait.Backoff{
			Duration: opts.Delay,
			Factor:   2,
			Jitter:   0.1,
			Steps:    opts.Retries + 1,
		},
	}
}

// IsRemote reports whether src needs to be fetched over the
// network.
func IsRemote(src string) bool {
	uri, err := url.Parse(src)
	if err != nil {
		return false
	}
	return uri.Scheme == "http" || uri.Scheme == "https"
}

func localPath(src string) string {
	if strings.HasPrefix(src, "file://") {
		if uri, err := url.Parse(src); err == nil {
			return filepath.FromSlash(uri.Path)
		}
	}
	return src
}

// DownloadBytes returns the contents of src. Remote sources
// are retried on transient failures.
func (d *Downloader) DownloadBytes(ctx context.Context, src string) ([]byte, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("src", src)
	log.V(1).Info("downloading bytes")

	if !IsRemote(src) {
		data, err := os.ReadFile(localPath(src))
		if errors.Is(err, os.ErrNotExist) {
			log.V(1).Info("failed to locate file")
			return nil, fmt.Errorf("%w: %s", ErrNotFound, src)
		}
		if err != nil {
			log.Error(err, "failed to read file")
			return nil, err
		}
		return data, nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		log.Error(err, "failed to prepare request")
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		log.Error(err, "failed to execute request")
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		log.V(1).Info("failed to locate file")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, src)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.V(1).Info("failed to download file", "code", resp.StatusCode)
		return nil, fmt.Errorf("http response failed with code: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error(err, "failed to read response")
		return nil, err
	}
	log.V(1).Info("successfully downloaded bytes", "code", resp.StatusCode, "size", len(data))
	return data, nil
}

// DownloadFile fetches src into dst, reporting progress as it
// goes. The file only appears at dst once it is complete.
func (d *Downloader) DownloadFile(ctx context.Context, src, dst string, progress ProgressFunc) error {
	log := logr.FromContextOrDiscard(ctx).WithValues("src", src, "dst", dst)
	log.Info("downloading file")
	if progress == nil {
		progress = func(int) {}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	part := partPath(src, dst)
	pwd, _ := os.Getwd()
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, d.backoff, func(ctx context.Context) (bool, error) {
		_ = os.Remove(part)
		client := &getter.Client{
			Ctx:              ctx,
			Src:              src,
			Pwd:              pwd,
			Dst:              part,
			Mode:             getter.ClientModeFile,
			DisableSymlinks:  true,
			Getters:          getters(),
			ProgressListener: &listener{fn: progress},
		}
		if err := client.Get(); err != nil {
			log.V(1).Info("download attempt failed", "error", err.Error())
			lastErr = err
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		_ = os.Remove(part)
		if wait.Interrupted(err) && lastErr != nil && ctx.Err() == nil {
			err = lastErr
		}
		log.Error(err, "failed to download file")
		return fmt.Errorf("downloading %s: %w", src, err)
	}
	if err := os.Chmod(part, 0644); err != nil {
		log.Error(err, "failed to update file permissions", "file", part)
		return err
	}
	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return err
	}
	progress(100)
	log.V(1).Info("downloaded file")
	return nil
}

// partPath names the in-progress download next to dst so
// the final rename stays on one filesystem. The name is stable
// for a given source.
func partPath(src, dst string) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(src))
	return filepath.Join(filepath.Dir(dst), "."+id.String()+".part")
}

// getters copies local files instead of linking them, so the
// package cache never refers back into the source.
func getters() map[string]getter.Getter {
	out := make(map[string]getter.Getter, len(getter.Getters))
	for k, v := range getter.Getters {
		out[k] = v
	}
	out["file"] = &getter.FileGetter{Copy: true}
	return out
}
