// Package progress aggregates per-release progress into a single
// percentage for a whole apply sequence.
package progress

import "sync"

// Func receives overall progress between 0 and 100. It is
// called with the tracker's lock held, so it must return quickly.
type Func func(percent int)

// Discard ignores all progress.
func Discard(int) {}

type Tracker struct {
	mu        sync.Mutex
	total     int
	completed int
	current   int
	last      int
	fn        Func
}

// New creates a tracker for total releases. A nil fn discards
// updates.
func New(total int, fn Func) *Tracker {
	if fn == nil {
		fn = Discard
	}
	return &Tracker{total: total, fn: fn, last: -1}
}

// ReportReleaseProgress records progress within the release
// currently being applied. Values are clamped to 0-100.
func (t *Tracker) ReportReleaseProgress(percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = clamp(percent)
	t.emit()
}

// FinishRelease marks the current release complete.
func (t *Tracker) FinishRelease() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed < t.total {
		t.completed++
	}
	t.current = 0
	t.emit()
}

// Done reports 100, regardless of how many releases were
// finished.
func (t *Tracker) Done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = t.total
	t.current = 0
	t.emit()
}

// Last returns the most recently reported value, or -1 if
// nothing has been reported.
func (t *Tracker) Last() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Range maps 0-100 onto [from, to] of the current release.
func (t *Tracker) Range(from, to int) Func {
	return func(percent int) {
		t.ReportReleaseProgress(from + clamp(percent)*(to-from)/100)
	}
}

func (t *Tracker) emit() {
	value := 100
	if t.total > 0 {
		value = (t.completed*100 + t.current) / t.total
	}
	value = min(clamp(value), 100)
	if value <= t.last {
		return
	}
	t.last = value
	t.fn(value)
}

func clamp(v int) int {
	return max(0, min(v, 100))
}
