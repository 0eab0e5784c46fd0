// Package readers pulls clipboard representations out of paste and drop events
package readers

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/interfaces"
	"github.com/memtensor/pastebridge/pkg/types"
)

// PayloadReader builds immutable payload snapshots from a ClipboardSource
type PayloadReader struct {
	logger interfaces.Logger
}

// NewPayloadReader creates a reader
func NewPayloadReader(logger interfaces.Logger) *PayloadReader {
	return &PayloadReader{logger: logger}
}

// Read collects every representation of src. A representation that fails to
// read is left empty and reported in the returned list; it never aborts the read.
func (r *PayloadReader) Read(src interfaces.ClipboardSource) (*types.ClipboardPayload, *pberrors.ErrorList) {
	failures := pberrors.NewErrorList()
	payload := &types.ClipboardPayload{}
	if src == nil {
		return payload, failures
	}

	payload.HTML = r.readText(src, types.RepresentationHTML, failures)
	payload.RTF = r.readText(src, types.RepresentationRTF, failures)
	payload.Text = r.readText(src, types.RepresentationText, failures)
	payload.NativeItems = r.readItems(src, failures)

	r.logger.Debug("Clipboard payload read", map[string]interface{}{
		"html_len":  len(payload.HTML),
		"rtf_len":   len(payload.RTF),
		"text_len":  len(payload.Text),
		"items":     len(payload.NativeItems),
		"failures":  len(failures.Errors),
		"item_mime": payload.ItemTypes(),
	})
	return payload, failures
}

func (r *PayloadReader) readText(src interfaces.ClipboardSource, rep types.Representation, failures *pberrors.ErrorList) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			failures.Add(pberrors.NewReadFailure(rep, fmt.Errorf("panic: %v", rec)))
			out = ""
		}
	}()

	value, err := src.GetData(rep)
	if err != nil {
		r.logger.Warn("Clipboard representation unavailable", map[string]interface{}{
			"representation": string(rep),
			"error":          err.Error(),
		})
		failures.Add(pberrors.NewReadFailure(rep, err))
		return ""
	}
	return value
}

func (r *PayloadReader) readItems(src interfaces.ClipboardSource, failures *pberrors.ErrorList) (out []types.NativeItem) {
	defer func() {
		if rec := recover(); rec != nil {
			failures.Add(pberrors.NewReadFailure(types.RepresentationNative, fmt.Errorf("panic: %v", rec)))
			out = nil
		}
	}()

	items, err := src.Items()
	if err != nil {
		r.logger.Warn("Some native clipboard items unavailable", map[string]interface{}{
			"error": err.Error(),
			"kept":  len(items),
		})
		failures.Add(pberrors.NewReadFailure(types.RepresentationNative, err))
	}

	out = make([]types.NativeItem, 0, len(items))
	for _, item := range items {
		if item.MimeType == "" && len(item.Data) > 0 {
			item.MimeType = DetectMime(item.Data)
		}
		out = append(out, item)
	}
	return out
}

// DetectMime sniffs the media type of data without parameters
func DetectMime(data []byte) string {
	mt := mimetype.Detect(data).String()
	if base, _, found := strings.Cut(mt, ";"); found {
		return strings.TrimSpace(base)
	}
	return mt
}
