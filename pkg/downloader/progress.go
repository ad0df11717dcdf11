package downloader

import (
	"io"
	"sync"
)

// listener adapts go-getter's progress hook to a percentage
// callback.
type listener struct {
	fn ProgressFunc
}

func (l *listener) TrackProgress(_ string, currentSize, totalSize int64, stream io.ReadCloser) io.ReadCloser {
	return &progressReader{
		ReadCloser: stream,
		fn:         l.fn,
		current:    currentSize,
		total:      totalSize,
		last:       -1,
	}
}

type progressReader struct {
	io.ReadCloser
	fn ProgressFunc

	mu      sync.Mutex
	current int64
	total   int64
	last    int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.ReadCloser.Read(b)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current += int64(n)
	if p.total > 0 {
		// 100 is reserved for when the file is in place
		percent := min(int(p.current*100/p.total), 99)
		if percent > p.last {
			p.last = percent
			p.fn(percent)
		}
	}
	return n, err
}
