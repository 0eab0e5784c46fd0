// Package schedulers uploads extracted images with bounded concurrency
package schedulers

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/interfaces"
	"github.com/memtensor/pastebridge/pkg/metrics"
	"github.com/memtensor/pastebridge/pkg/types"
)

// ProgressFunc is called after every settled task with the number of settled
// tasks so far. Calls are serialized.
type ProgressFunc func(completed, total int, task types.ImageTask)

// Prioritize returns tasks stably ordered with JPEGs first, then by original index
func Prioritize(tasks []types.ImageTask) []types.ImageTask {
	order := dispatchOrder(tasks)
	out := make([]types.ImageTask, len(order))
	for i, idx := range order {
		out[i] = tasks[idx]
	}
	return out
}

// dispatchOrder returns input positions sorted by (jpeg ? 0 : 1, original index)
func dispatchOrder(tasks []types.ImageTask) []int {
	order := make([]int, len(tasks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ta, tb := tasks[order[a]], tasks[order[b]]
		pa, pb := priority(ta), priority(tb)
		if pa != pb {
			return pa < pb
		}
		return ta.OriginalIndex < tb.OriginalIndex
	})
	return order
}

func priority(t types.ImageTask) int {
	if t.IsJPEG() {
		return 0
	}
	return 1
}

// Scheduler runs upload batches over a fixed worker pool
type Scheduler struct {
	uploader interfaces.Uploader
	logger   interfaces.Logger
	metrics  interfaces.Metrics
}

// NewScheduler creates a scheduler. A nil metrics sink disables metrics.
func NewScheduler(uploader interfaces.Uploader, logger interfaces.Logger, m interfaces.Metrics) *Scheduler {
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return &Scheduler{
		uploader: uploader,
		logger:   logger.WithFields(map[string]interface{}{"component": "upload-scheduler"}),
		metrics:  m,
	}
}

// Run uploads every task exactly once and returns one result per task, in
// input order. min(concurrency, len(tasks)) workers pull from a shared cursor
// over the prioritized order. A failed upload yields a result with an empty
// URL and never stops the other workers.
func (s *Scheduler) Run(ctx context.Context, tasks []types.ImageTask, concurrency int, onProgress ProgressFunc) []types.UploadResult {
	results := make([]types.UploadResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	order := dispatchOrder(tasks)
	workers := concurrency
	if workers > len(tasks) {
		workers = len(tasks)
	}
	if workers < 1 {
		workers = 1
	}

	var (
		cursor    atomic.Int64
		progress  sync.Mutex
		completed int
		g         errgroup.Group
	)
	start := time.Now()

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				next := int(cursor.Add(1)) - 1
				if next >= len(order) {
					return nil
				}
				pos := order[next]
				results[pos] = s.uploadOne(ctx, tasks[pos])

				progress.Lock()
				completed++
				s.notify(onProgress, completed, len(tasks), tasks[pos])
				progress.Unlock()
			}
		})
	}
	// workers never return errors
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	s.logger.Debug("Upload batch settled", map[string]interface{}{
		"tasks":       len(tasks),
		"workers":     workers,
		"failed":      failed,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return results
}

func (s *Scheduler) uploadOne(ctx context.Context, task types.ImageTask) types.UploadResult {
	start := time.Now()
	var (
		url string
		err error
	)
	if task.IsDataURI() {
		url, err = s.uploader.UploadDataURI(ctx, task.DataURI, task.Name)
	} else {
		url, err = s.uploader.UploadFile(ctx, task.Data, task.Name, task.MimeType)
	}

	labels := map[string]string{"source": string(task.SourceKind)}
	s.metrics.Timer("upload_duration_ms", float64(time.Since(start).Milliseconds()), labels)

	if err != nil || url == "" {
		failure := pberrors.NewUploadFailure(task, err)
		s.logger.Warn("Image upload failed", map[string]interface{}{
			"source":         string(task.SourceKind),
			"original_index": task.OriginalIndex,
			"error":          failure.Error(),
		})
		s.metrics.Counter("uploads_failed", 1, labels)
		return types.UploadResult{Task: task, Err: failure}
	}

	s.metrics.Counter("uploads_succeeded", 1, labels)
	return types.UploadResult{Task: task, URL: url}
}

func (s *Scheduler) notify(onProgress ProgressFunc, completed, total int, task types.ImageTask) {
	if onProgress == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Warn("Progress callback panicked", map[string]interface{}{"panic": rec})
		}
	}()
	onProgress(completed, total, task)
}
