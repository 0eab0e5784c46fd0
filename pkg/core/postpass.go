package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/memtensor/pastebridge/pkg/types"
)

// PostPassResult counts what one post-pass changed
type PostPassResult struct {
	Scanned  int `json:"scanned"`
	Replaced int `json:"replaced"`
	Removed  int `json:"removed"`
	Failed   int `json:"failed"`
}

// IsRemote reports whether a reference is already served over http(s),
// protocol-relative or root-relative
func IsRemote(ref string) bool {
	lower := strings.ToLower(strings.TrimSpace(ref))
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "/")
}

type refAction int

const (
	actionReplace refAction = iota
	actionRemove
)

type pendingRef struct {
	ref    types.ImageRef
	action refAction
	task   int
}

// postPass replaces inline data images and fetchable local references with
// uploaded URLs and drops file: references. Running it twice changes nothing
// the second time.
func (o *Orchestrator) postPass(ctx context.Context) PostPassResult {
	doc := o.editor.Document()
	refs := doc.ImageRefs()
	result := PostPassResult{Scanned: len(refs)}

	var (
		pending []pendingRef
		tasks   []types.ImageTask
	)
	for _, ref := range refs {
		url := strings.TrimSpace(ref.URL)
		if url == "" || IsRemote(url) {
			continue
		}
		lower := strings.ToLower(url)
		switch {
		case strings.HasPrefix(lower, "file:"):
			pending = append(pending, pendingRef{ref: ref, action: actionRemove})

		case strings.HasPrefix(lower, "data:image/"):
			tasks = append(tasks, types.ImageTask{
				SourceKind:    types.SourceDataURI,
				DataURI:       url,
				MimeType:      types.MimeFromDataURI(url),
				Name:          refName(ref),
				OriginalIndex: len(tasks),
			})
			pending = append(pending, pendingRef{ref: ref, action: actionReplace, task: len(tasks) - 1})

		default:
			task, err := o.fetchRef(ctx, ref, len(tasks))
			if err != nil {
				result.Failed++
				o.logger.Warn("Image reference could not be fetched", map[string]interface{}{
					"index": ref.Index,
					"kind":  string(ref.Kind),
					"error": err.Error(),
				})
				continue
			}
			tasks = append(tasks, task)
			pending = append(pending, pendingRef{ref: ref, action: actionReplace, task: len(tasks) - 1})
		}
	}
	if len(pending) == 0 {
		return result
	}

	uploads := o.scheduler.Run(ctx, tasks, o.config.PasteConcurrency, nil)

	for i := len(pending) - 1; i >= 0; i-- {
		p := pending[i]
		var err error
		switch p.action {
		case actionRemove:
			if err = doc.RemoveImageRef(p.ref); err == nil {
				result.Removed++
			}
		case actionReplace:
			up := uploads[p.task]
			if !up.OK() {
				result.Failed++
				continue
			}
			if err = doc.SetImageRef(p.ref, up.URL); err == nil {
				result.Replaced++
			}
		}
		if err != nil {
			result.Failed++
			o.logger.Warn("Image reference changed during post-pass", map[string]interface{}{
				"index": p.ref.Index,
				"error": err.Error(),
			})
		}
	}

	o.metrics.Counter("postpass_replaced", float64(result.Replaced), nil)
	o.logger.Debug("Post-pass finished", map[string]interface{}{
		"scanned":  result.Scanned,
		"replaced": result.Replaced,
		"removed":  result.Removed,
		"failed":   result.Failed,
	})
	return result
}

func (o *Orchestrator) fetchRef(ctx context.Context, ref types.ImageRef, index int) (types.ImageTask, error) {
	if o.fetcher == nil {
		return types.ImageTask{}, fmt.Errorf("no fetcher configured")
	}
	data, mime, err := o.fetcher.Fetch(ctx, ref.URL)
	if err != nil {
		return types.ImageTask{}, err
	}
	if !strings.HasPrefix(mime, "image/") {
		return types.ImageTask{}, fmt.Errorf("fetched %s is not an image", mime)
	}
	return types.ImageTask{
		SourceKind:    types.SourceNativeFile,
		Data:          data,
		MimeType:      mime,
		Name:          refName(ref),
		OriginalIndex: index,
	}, nil
}

func refName(ref types.ImageRef) string {
	if ref.Kind == types.ImageRefBackground {
		return "bg-pasted.png"
	}
	if ref.Alt != "" {
		return ref.Alt + ".png"
	}
	return "pasted.png"
}
