package progress

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	values []int
}

func (r *recorder) record(v int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func TestTracker(t *testing.T) {
	var cases = []struct {
		name   string
		total  int
		run    func(tr *Tracker)
		expect []int
	}{
		{
			"single release",
			1,
			func(tr *Tracker) {
				tr.ReportReleaseProgress(0)
				tr.ReportReleaseProgress(50)
				tr.FinishRelease()
			},
			[]int{0, 50, 100},
		},
		{
			"weighted across releases",
			4,
			func(tr *Tracker) {
				tr.ReportReleaseProgress(50)
				tr.FinishRelease()
				tr.ReportReleaseProgress(50)
				tr.FinishRelease()
				tr.FinishRelease()
				tr.FinishRelease()
			},
			[]int{12, 25, 37, 50, 75, 100},
		},
		{
			"regressions are suppressed",
			2,
			func(tr *Tracker) {
				tr.ReportReleaseProgress(80)
				tr.ReportReleaseProgress(20)
				tr.FinishRelease()
				tr.ReportReleaseProgress(-5)
				tr.ReportReleaseProgress(500)
				tr.FinishRelease()
			},
			[]int{40, 50, 100},
		},
		{
			"empty sequence",
			0,
			func(tr *Tracker) {
				tr.Done()
			},
			[]int{100},
		},
		{
			"range mapping",
			1,
			func(tr *Tracker) {
				download := tr.Range(0, 50)
				download(100)
				apply := tr.Range(50, 100)
				apply(50)
				tr.Done()
			},
			[]int{50, 75, 100},
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			tr := New(tt.total, r.record)
			tt.run(tr)
			assert.EqualValues(t, tt.expect, r.values)
			assert.EqualValues(t, 100, tr.Last())
		})
	}
}

func TestTracker_Concurrent(t *testing.T) {
	r := &recorder{}
	total := 5
	tr := New(total, r.record)

	for i := 0; i < total; i++ {
		wg := sync.WaitGroup{}
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func(seed int64) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(seed))
				for k := 0; k < 50; k++ {
					tr.ReportReleaseProgress(rng.Intn(101))
				}
			}(int64(i*10 + j))
		}
		wg.Wait()
		tr.FinishRelease()
	}

	require.NotEmpty(t, r.values)
	for i := 1; i < len(r.values); i++ {
		assert.GreaterOrEqual(t, r.values[i], r.values[i-1])
	}
	assert.EqualValues(t, 100, r.values[len(r.values)-1])
}

func TestNew_NilFunc(t *testing.T) {
	tr := New(1, nil)
	tr.FinishRelease()
	assert.EqualValues(t, 100, tr.Last())
}
