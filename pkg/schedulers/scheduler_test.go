package schedulers

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/logger"
	"github.com/memtensor/pastebridge/pkg/metrics"
	"github.com/memtensor/pastebridge/pkg/types"
)

// fakeUploader resolves each name to "/u/<name>" after an optional delay
type fakeUploader struct {
	mu       sync.Mutex
	delay    func(name string) time.Duration
	fail     map[string]bool
	started  []string
	active   atomic.Int32
	maxSeen  atomic.Int32
	dataURIs atomic.Int32
}

func (f *fakeUploader) UploadDataURI(ctx context.Context, dataURI, fileName string) (string, error) {
	f.dataURIs.Add(1)
	return f.upload(ctx, fileName)
}

func (f *fakeUploader) UploadFile(ctx context.Context, data []byte, fileName, mimeType string) (string, error) {
	return f.upload(ctx, fileName)
}

func (f *fakeUploader) upload(ctx context.Context, name string) (string, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.started = append(f.started, name)
	f.mu.Unlock()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(name)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.fail[name] {
		return "", errors.New("server said no")
	}
	return "/u/" + name, nil
}

func task(idx int, mime string) types.ImageTask {
	ext := "png"
	if mime == types.MimeJPEG {
		ext = "jpg"
	}
	return types.ImageTask{
		SourceKind:    types.SourceNativeFile,
		Data:          []byte{byte(idx)},
		MimeType:      mime,
		Name:          fmt.Sprintf("img-%d.%s", idx, ext),
		OriginalIndex: idx,
	}
}

func newTestScheduler(up *fakeUploader) (*Scheduler, *metrics.InMemoryMetrics) {
	m := metrics.NewTestMetrics()
	return NewScheduler(up, logger.NewTestLogger(), m), m
}

func TestPrioritize(t *testing.T) {
	tasks := []types.ImageTask{
		task(0, types.MimePNG),
		task(1, types.MimeJPEG),
		task(2, types.MimeGIF),
		task(3, types.MimeJPEG),
		task(4, types.MimePNG),
	}

	ordered := Prioritize(tasks)
	var idx []int
	for _, t := range ordered {
		idx = append(idx, t.OriginalIndex)
	}
	assert.Equal(t, []int{1, 3, 0, 2, 4}, idx)
	// input untouched
	assert.Equal(t, 0, tasks[0].OriginalIndex)
}

func TestPrioritizeByNameAndDataURI(t *testing.T) {
	tasks := []types.ImageTask{
		{OriginalIndex: 0, DataURI: "data:image/png;base64,AAAA"},
		{OriginalIndex: 1, Name: "photo.JPEG"},
		{OriginalIndex: 2, DataURI: "data:image/jpeg;base64,AAAA"},
	}
	ordered := Prioritize(tasks)
	assert.Equal(t, 1, ordered[0].OriginalIndex)
	assert.Equal(t, 2, ordered[1].OriginalIndex)
	assert.Equal(t, 0, ordered[2].OriginalIndex)
}

func TestRunEmpty(t *testing.T) {
	s, _ := newTestScheduler(&fakeUploader{})
	results := s.Run(context.Background(), nil, 3, nil)
	assert.Empty(t, results)
}

func TestRunDispatchesJPEGFirst(t *testing.T) {
	up := &fakeUploader{}
	s, _ := newTestScheduler(up)
	tasks := []types.ImageTask{task(0, types.MimePNG), task(1, types.MimeJPEG), task(2, types.MimePNG)}

	s.Run(context.Background(), tasks, 1, nil)
	assert.Equal(t, []string{"img-1.jpg", "img-0.png", "img-2.png"}, up.started)
}

func TestRunPositionalResultsUnderRandomLatency(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		n := 1 + rng.Intn(12)
		concurrency := 1 + rng.Intn(4)
		latencies := map[string]time.Duration{}
		var tasks []types.ImageTask
		for i := 0; i < n; i++ {
			mime := types.MimePNG
			if rng.Intn(2) == 0 {
				mime = types.MimeJPEG
			}
			tk := task(i, mime)
			latencies[tk.Name] = time.Duration(rng.Intn(15)) * time.Millisecond
			tasks = append(tasks, tk)
		}

		up := &fakeUploader{delay: func(name string) time.Duration { return latencies[name] }}
		s, _ := newTestScheduler(up)
		results := s.Run(context.Background(), tasks, concurrency, nil)

		require.Len(t, results, n)
		for i, r := range results {
			assert.Equal(t, "/u/"+tasks[i].Name, r.URL, "round %d position %d", round, i)
			assert.Equal(t, tasks[i].OriginalIndex, r.Task.OriginalIndex)
		}
		assert.LessOrEqual(t, int(up.maxSeen.Load()), concurrency)
		assert.Len(t, up.started, n)
	}
}

func TestRunBoundedWallTime(t *testing.T) {
	up := &fakeUploader{delay: func(string) time.Duration { return 100 * time.Millisecond }}
	s, _ := newTestScheduler(up)
	var tasks []types.ImageTask
	for i := 0; i < 5; i++ {
		tasks = append(tasks, task(i, types.MimePNG))
	}

	start := time.Now()
	results := s.Run(context.Background(), tasks, 2, nil)
	elapsed := time.Since(start)

	require.Len(t, results, 5)
	assert.Equal(t, int32(2), up.maxSeen.Load())
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 450*time.Millisecond)
}

func TestRunFailureIsIsolated(t *testing.T) {
	up := &fakeUploader{fail: map[string]bool{"img-1.png": true}}
	s, m := newTestScheduler(up)
	tasks := []types.ImageTask{task(0, types.MimePNG), task(1, types.MimePNG), task(2, types.MimePNG)}

	results := s.Run(context.Background(), tasks, 2, nil)

	assert.Equal(t, "/u/img-0.png", results[0].URL)
	assert.Empty(t, results[1].URL)
	assert.True(t, pberrors.HasCode(results[1].Err, pberrors.ErrCodeUploadFailure))
	assert.Equal(t, "/u/img-2.png", results[2].URL)

	labels := map[string]string{"source": string(types.SourceNativeFile)}
	assert.Equal(t, float64(2), m.CounterValue("uploads_succeeded", labels))
	assert.Equal(t, float64(1), m.CounterValue("uploads_failed", labels))
}

func TestRunRoutesDataURIs(t *testing.T) {
	up := &fakeUploader{}
	s, _ := newTestScheduler(up)
	tasks := []types.ImageTask{
		{SourceKind: types.SourceDataURI, DataURI: "data:image/png;base64,AAAA", Name: "a.png"},
		task(1, types.MimePNG),
	}
	results := s.Run(context.Background(), tasks, 2, nil)
	assert.Equal(t, int32(1), up.dataURIs.Load())
	assert.True(t, results[0].OK())
	assert.True(t, results[1].OK())
}

func TestRunProgress(t *testing.T) {
	up := &fakeUploader{delay: func(string) time.Duration { return time.Millisecond }}
	s, _ := newTestScheduler(up)
	var tasks []types.ImageTask
	for i := 0; i < 6; i++ {
		tasks = append(tasks, task(i, types.MimePNG))
	}

	var seen []int
	results := s.Run(context.Background(), tasks, 3, func(completed, total int, _ types.ImageTask) {
		assert.Equal(t, 6, total)
		seen = append(seen, completed)
		if completed == 2 {
			panic("callback bug")
		}
	})

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, seen)
	assert.Len(t, results, 6)
}

func TestRunZeroConcurrencyStillRuns(t *testing.T) {
	s, _ := newTestScheduler(&fakeUploader{})
	results := s.Run(context.Background(), []types.ImageTask{task(0, types.MimePNG)}, 0, nil)
	assert.True(t, results[0].OK())
}
