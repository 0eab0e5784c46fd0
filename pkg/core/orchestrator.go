// Package core wires readers, extractors, the upload scheduler and the
// rewriter into one paste/drop pipeline per editing surface
package core

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/memtensor/pastebridge/pkg/classifier"
	"github.com/memtensor/pastebridge/pkg/config"
	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/extractors"
	"github.com/memtensor/pastebridge/pkg/interfaces"
	"github.com/memtensor/pastebridge/pkg/metrics"
	"github.com/memtensor/pastebridge/pkg/readers"
	"github.com/memtensor/pastebridge/pkg/rewriter"
	"github.com/memtensor/pastebridge/pkg/schedulers"
	"github.com/memtensor/pastebridge/pkg/telemetry"
	"github.com/memtensor/pastebridge/pkg/types"
)

// Alt texts of inserted images
const (
	AltPasted    = "pasted-image"
	AltRTFPasted = "rtf-pasted-image"
	AltDropped   = "dropped-image"
)

// ProgressLabel renders upload progress for status overlays
func ProgressLabel(completed, total int) string {
	return fmt.Sprintf("이미지 업로드 중… (%d/%d) · JPG 우선 업로드", completed, total)
}

// Deps are the collaborators of an orchestrator. Fetcher and Reporter are optional.
type Deps struct {
	Editor   interfaces.Editor
	Uploader interfaces.Uploader
	Guard    interfaces.BusyGuard
	Fetcher  interfaces.Fetcher
	Reporter interfaces.Reporter
	Logger   interfaces.Logger
	Metrics  interfaces.Metrics
}

// Options tune one orchestrator
type Options struct {
	// BusyKey identifies the editing surface in the busy guard
	BusyKey string
	// EmulateDefaultPaste inserts unhandled pastes itself, for hosts
	// without a native paste action
	EmulateDefaultPaste bool
	// Progress receives per-upload progress
	Progress schedulers.ProgressFunc
}

// Outcome describes what one paste or drop event did
type Outcome struct {
	Branch           types.Branch   `json:"branch"`
	Handled          bool           `json:"handled"`
	DefaultPrevented bool           `json:"default_prevented"`
	Rejected         bool           `json:"rejected"`
	Markup           string         `json:"markup,omitempty"`
	Tasks            int            `json:"tasks"`
	Uploaded         int            `json:"uploaded"`
	Failed           int            `json:"failed"`
	ReadFailures     int            `json:"read_failures"`
	PostPass         PostPassResult `json:"post_pass"`
}

// Orchestrator runs the pipeline for one editing surface. At most one paste
// or drop is in flight per busy key; others are rejected, never queued.
type Orchestrator struct {
	config    *config.PipelineConfig
	options   Options
	reader    *readers.PayloadReader
	registry  *extractors.Registry
	scheduler *schedulers.Scheduler
	editor    interfaces.Editor
	uploader  interfaces.Uploader
	guard     interfaces.BusyGuard
	fetcher   interfaces.Fetcher
	reporter  interfaces.Reporter
	logger    interfaces.Logger
	metrics   interfaces.Metrics
	reports   sync.WaitGroup
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(cfg *config.PipelineConfig, opts Options, deps Deps) (*Orchestrator, error) {
	if cfg == nil {
		return nil, pberrors.NewValidationError("pipeline configuration is required")
	}
	if deps.Editor == nil {
		return nil, pberrors.NewMissingFieldError("editor")
	}
	if deps.Uploader == nil {
		return nil, pberrors.NewMissingFieldError("uploader")
	}
	if deps.Guard == nil {
		return nil, pberrors.NewMissingFieldError("guard")
	}
	if deps.Logger == nil {
		return nil, pberrors.NewMissingFieldError("logger")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoOpMetrics()
	}
	if opts.BusyKey == "" {
		opts.BusyKey = "default"
	}

	logger := deps.Logger.WithFields(map[string]interface{}{"busy_key": opts.BusyKey})
	return &Orchestrator{
		config:    cfg,
		options:   opts,
		reader:    readers.NewPayloadReader(logger),
		registry:  extractors.NewRegistry(cfg),
		scheduler: schedulers.NewScheduler(deps.Uploader, logger, deps.Metrics),
		editor:    deps.Editor,
		uploader:  deps.Uploader,
		guard:     deps.Guard,
		fetcher:   deps.Fetcher,
		reporter:  deps.Reporter,
		logger:    logger,
		metrics:   deps.Metrics,
	}, nil
}

// Registry exposes the extractor registry for custom extractors
func (o *Orchestrator) Registry() *extractors.Registry { return o.registry }

// HandlePaste runs the paste pipeline. While another event holds the busy
// key it returns a rejected outcome and an error matching pberrors.ErrBusy.
func (o *Orchestrator) HandlePaste(ctx context.Context, src interfaces.ClipboardSource) (*Outcome, error) {
	release, err := o.acquire(ctx, "paste_rejected")
	if err != nil {
		return rejectedOutcome(err), err
	}
	defer release()
	// a started batch runs to completion even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	payload, failures := o.reader.Read(src)
	if failures.HasErrors() {
		o.logger.Warn("Some clipboard representations could not be read", map[string]interface{}{"error": failures.Error()})
	}
	o.reportClipboard(ctx, payload)

	plan := classifier.Classify(payload)
	out := &Outcome{Branch: plan.Branch, ReadFailures: len(failures.Errors)}
	o.logger.Debug("Paste classified", map[string]interface{}{
		"branch":     string(plan.Branch),
		"steps":      plan.Kinds(),
		"item_types": payload.ItemTypes(),
		"html_len":   len(payload.HTML),
		"rtf_len":    len(payload.RTF),
	})

	switch plan.Branch {
	case types.BranchNative:
		o.runNative(ctx, payload, o.config.PasteConcurrency, AltPasted, out)
	case types.BranchDataURI:
		o.runDataURI(ctx, payload, out)
	case types.BranchFileRefs:
		o.runFileRefs(ctx, payload, plan, out)
	default:
		o.runPassthrough(payload, out)
	}

	if err := o.insert(ctx, out); err != nil {
		return out, err
	}
	o.finish(ctx, out, start)
	return out, nil
}

// HandleDrop uploads dropped image files and inserts them at the cursor
func (o *Orchestrator) HandleDrop(ctx context.Context, src interfaces.ClipboardSource) (*Outcome, error) {
	release, err := o.acquire(ctx, "paste_rejected")
	if err != nil {
		return rejectedOutcome(err), err
	}
	defer release()
	// a started batch runs to completion even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	payload, failures := o.reader.Read(src)
	plan := classifier.ClassifyDrop(payload)
	out := &Outcome{Branch: plan.Branch, ReadFailures: len(failures.Errors)}

	if plan.Branch != types.BranchDrop {
		o.logger.Debug("Drop without image files ignored", nil)
		return out, nil
	}
	o.runNative(ctx, payload, o.config.DropConcurrency, AltDropped, out)
	if err := o.insert(ctx, out); err != nil {
		return out, err
	}
	o.finish(ctx, out, start)
	return out, nil
}

// PostPass re-scans the document and replaces every non-remote image
// reference. It takes the busy key like a paste does.
func (o *Orchestrator) PostPass(ctx context.Context) (PostPassResult, error) {
	release, err := o.acquire(ctx, "postpass_rejected")
	if err != nil {
		return PostPassResult{}, err
	}
	defer release()
	return o.postPass(context.WithoutCancel(ctx)), nil
}

// Wait blocks until every pending report has been sent
func (o *Orchestrator) Wait() {
	o.reports.Wait()
}

// acquire takes the busy key, counting a busy rejection under rejectedMetric
func (o *Orchestrator) acquire(ctx context.Context, rejectedMetric string) (func(), error) {
	release, err := o.guard.Acquire(ctx, o.options.BusyKey)
	if err != nil {
		if errors.Is(err, pberrors.ErrBusy) {
			o.metrics.Counter(rejectedMetric, 1, nil)
			o.logger.Warn("Event ignored: busy", map[string]interface{}{"metric": rejectedMetric})
		}
		return nil, err
	}
	return release, nil
}

func rejectedOutcome(err error) *Outcome {
	if !errors.Is(err, pberrors.ErrBusy) {
		return nil
	}
	return &Outcome{Rejected: true, DefaultPrevented: true}
}

func (o *Orchestrator) runNative(ctx context.Context, payload *types.ClipboardPayload, concurrency int, alt string, out *Outcome) {
	out.Handled, out.DefaultPrevented = true, true
	tasks := o.extract(types.ExtractorNativeFile, payload)
	results := o.upload(ctx, tasks, concurrency, out)
	out.Markup = imageTags(types.URLsByOriginalIndex(results), alt)
}

func (o *Orchestrator) runDataURI(ctx context.Context, payload *types.ClipboardPayload, out *Outcome) {
	out.Handled, out.DefaultPrevented = true, true
	tasks := o.extract(types.ExtractorHTMLDataURI, payload)
	results := o.upload(ctx, tasks, o.config.PasteConcurrency, out)
	out.Markup = rewriter.Rewrite(payload.HTML, types.BuildRewriteMap(results), nil).HTML
}

// runFileRefs tries the vendor sidecar, then RTF pictures, then strips the references
func (o *Orchestrator) runFileRefs(ctx context.Context, payload *types.ClipboardPayload, plan classifier.Plan, out *Outcome) {
	out.Handled, out.DefaultPrevented = true, true

	for _, step := range plan.Steps {
		switch step.Kind {
		case types.ExtractorVendorJSON:
			tasks := o.extract(step.Kind, payload)
			if len(tasks) == 0 {
				continue
			}
			results := o.upload(ctx, tasks, o.config.PasteConcurrency, out)
			urls := types.URLsByOriginalIndex(results)
			sites := rewriter.CountFileRefs(payload.HTML)
			res := rewriter.Rewrite(payload.HTML, nil, urls)
			if res.Stripped > 0 || sites > len(urls) {
				gap := pberrors.NewRewriteGap(sites, res.Replaced)
				o.logger.Warn("Unresolved file references stripped", map[string]interface{}{"error": gap.Error()})
			}
			out.Markup = res.HTML
			return

		case types.ExtractorRTFPicture:
			tasks := o.extract(step.Kind, payload)
			if len(tasks) == 0 {
				continue
			}
			results := o.upload(ctx, tasks, o.config.RTFConcurrency, out)
			out.Markup = strippedOrText(payload) + imageTags(types.URLsByOriginalIndex(results), AltRTFPasted)
			return

		case types.ExtractorFilePathHTML:
			out.Markup = strippedOrText(payload)
			return
		}
	}
}

func (o *Orchestrator) runPassthrough(payload *types.ClipboardPayload, out *Outcome) {
	if payload.HTML != "" {
		out.Markup = payload.HTML
	} else {
		out.Markup = html.EscapeString(payload.Text)
	}
}

// extract runs one extractor; failures are logged and yield no tasks
func (o *Orchestrator) extract(kind types.ExtractorKind, payload *types.ClipboardPayload) []types.ImageTask {
	tasks, err := o.registry.Run(kind, payload)
	if err != nil {
		o.logger.Warn("Extraction failed", map[string]interface{}{
			"extractor": string(kind),
			"error":     err.Error(),
		})
		return nil
	}
	o.logger.Debug("Extraction finished", map[string]interface{}{
		"extractor": string(kind),
		"tasks":     len(tasks),
	})
	return tasks
}

func (o *Orchestrator) upload(ctx context.Context, tasks []types.ImageTask, concurrency int, out *Outcome) []types.UploadResult {
	results := o.scheduler.Run(ctx, tasks, concurrency, o.options.Progress)
	out.Tasks += len(results)
	for _, r := range results {
		if r.OK() {
			out.Uploaded++
		} else {
			out.Failed++
		}
	}
	return results
}

// insert hands the markup to the editor. Unhandled pastes are left to the
// host unless it asked for emulation.
func (o *Orchestrator) insert(ctx context.Context, out *Outcome) error {
	if !out.Handled && !o.options.EmulateDefaultPaste {
		return nil
	}
	if out.Markup == "" {
		return nil
	}
	if err := o.editor.InsertHTML(ctx, out.Markup); err != nil {
		o.logger.Error("Failed to insert markup", err, map[string]interface{}{"branch": string(out.Branch)})
		return pberrors.NewInternalErrorWithCause("failed to insert markup", err)
	}
	return nil
}

// finish runs the post-pass when the document holds the pasted content, then
// schedules the final report
func (o *Orchestrator) finish(ctx context.Context, out *Outcome, start time.Time) {
	if out.Handled || o.options.EmulateDefaultPaste {
		out.PostPass = o.postPass(ctx)
	}

	labels := map[string]string{"branch": string(out.Branch)}
	o.metrics.Counter("paste_events", 1, labels)
	o.metrics.Timer("paste_duration_ms", float64(time.Since(start).Milliseconds()), labels)
	o.logger.Info("Paste completed", map[string]interface{}{
		"branch":      string(out.Branch),
		"handled":     out.Handled,
		"tasks":       out.Tasks,
		"uploaded":    out.Uploaded,
		"failed":      out.Failed,
		"post_pass":   out.PostPass.Replaced + out.PostPass.Removed,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	o.reportFinal(ctx)
}

func (o *Orchestrator) reportClipboard(ctx context.Context, payload *types.ClipboardPayload) {
	if o.reporter == nil {
		return
	}
	snapshot := telemetry.BuildSnapshot(payload, o.config.PlaceholderPhrases)
	snapshot.Source = o.options.BusyKey
	o.sendReport(ctx, "clipboard", func(rctx context.Context) (*types.ReportResponse, error) {
		return o.reporter.ReportClipboard(rctx, snapshot)
	})
}

func (o *Orchestrator) reportFinal(ctx context.Context) {
	if o.reporter == nil {
		return
	}
	doc := o.editor.Document()
	content := &types.FinalContent{
		SessionID: o.options.BusyKey,
		HTML:      doc.HTML(),
		Text:      doc.Text(),
		Time:      time.Now().UTC(),
	}
	o.sendReport(ctx, "final", func(rctx context.Context) (*types.ReportResponse, error) {
		return o.reporter.ReportFinal(rctx, content)
	})
}

// sendReport fires a report in the background; failures are only logged
func (o *Orchestrator) sendReport(ctx context.Context, kind string, send func(context.Context) (*types.ReportResponse, error)) {
	rctx := context.WithoutCancel(ctx)
	o.reports.Add(1)
	go func() {
		defer o.reports.Done()
		resp, err := send(rctx)
		if err != nil {
			o.logger.Warn("Report failed", map[string]interface{}{"kind": kind, "error": err.Error()})
			return
		}
		if resp != nil && resp.Verdict != "" {
			o.logger.Debug("Report verdict", map[string]interface{}{
				"kind":    kind,
				"verdict": string(resp.Verdict),
				"reason":  resp.Reason,
			})
		}
	}()
}

func imageTags(urls []string, alt string) string {
	var b strings.Builder
	for _, u := range urls {
		if u == "" {
			continue
		}
		fmt.Fprintf(&b, `<img src="%s" style="max-width:100%%;" alt="%s" />`, html.EscapeString(u), alt)
	}
	return b.String()
}

func strippedOrText(payload *types.ClipboardPayload) string {
	if payload.HTML != "" {
		return rewriter.StripFileRefs(payload.HTML)
	}
	return payload.Text
}
