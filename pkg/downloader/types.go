package downloader

import (
	"errors"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	DefaultRetries = 3
	DefaultDelay   = 250 * time.Millisecond
)

var ErrNotFound = errors.New("file not found")

// Downloader fetches manifests and packages from a release
// source. Sources may be http(s) URLs or local paths.
type Downloader struct {
	client  *retryablehttp.Client
	backoff wait.Backoff
}

type Options struct {
	// Retries is the number of additional attempts after the
	// first failure.
	Retries int
	// Delay is the wait before the first retry. It doubles
	// after every attempt.
	Delay time.Duration
}

// ProgressFunc receives download progress between 0 and 100.
type ProgressFunc func(percent int)
