package extractors

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/buger/jsonparser"

	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/types"
)

var jpegRefPattern = regexp.MustCompile(`(?i)\.jpe?g$`)

// VendorJSONExtractor reads the JSON sidecar some word processors embed in
// copied HTML as <!--[marker] {...} -->. Base64 blobs live under "bidt"
// keyed by reference id; references appear as "bi" strings, "bi" arrays of
// {sr, ty} entries and "img.bi" summaries anywhere in the tree.
type VendorJSONExtractor struct {
	markers   []string
	threshold int
	pattern   *regexp.Regexp
}

// NewVendorJSONExtractor creates an extractor recognizing the given comment
// markers. Blobs of threshold characters or fewer are ignored.
func NewVendorJSONExtractor(markers []string, threshold int) *VendorJSONExtractor {
	if len(markers) == 0 {
		markers = []string{"data-hwpjson", "vendor-json"}
	}
	quoted := make([]string, len(markers))
	for i, m := range markers {
		quoted[i] = regexp.QuoteMeta(m)
	}
	pattern := regexp.MustCompile(`(?is)<!--\[(?:` + strings.Join(quoted, "|") + `)\]\s*(\{.*?\})\s*-->`)
	return &VendorJSONExtractor{markers: markers, threshold: threshold, pattern: pattern}
}

// Kind identifies the extraction strategy
func (e *VendorJSONExtractor) Kind() types.ExtractorKind { return types.ExtractorVendorJSON }

// Sidecar returns the raw JSON of the first sidecar comment in html
func (e *VendorJSONExtractor) Sidecar(html string) (string, bool) {
	m := e.pattern.FindStringSubmatch(html)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Extract returns one task per referenced id with a matching blob, in reference order
func (e *VendorJSONExtractor) Extract(payload *types.ClipboardPayload) ([]types.ImageTask, error) {
	if payload == nil {
		return nil, nil
	}
	raw, ok := e.Sidecar(payload.HTML)
	if !ok {
		return nil, nil
	}
	data := []byte(raw)
	if !json.Valid(data) {
		return nil, pberrors.NewExtractFailure(e.Kind(), errors.New("sidecar is not valid JSON"))
	}

	idx := newVendorIndex(e.threshold)
	if err := idx.visit(data, jsonparser.Object); err != nil {
		return nil, pberrors.NewExtractFailure(e.Kind(), err)
	}

	var tasks []types.ImageTask
	for _, id := range idx.order {
		b64, ok := idx.blobs[id]
		if !ok {
			continue
		}
		mime := idx.mimeFor(id)
		tasks = append(tasks, types.ImageTask{
			SourceKind:    types.SourceVendorRef,
			DataURI:       types.BuildDataURI(mime, b64),
			MimeType:      mime,
			Name:          vendorFileName(id, mime),
			OriginalIndex: len(tasks),
			GroupKey:      id,
		})
	}
	return tasks, nil
}

type vendorIndex struct {
	threshold int
	blobs     map[string]string
	typeHints map[string]string
	order     []string
	seen      map[string]struct{}
}

func newVendorIndex(threshold int) *vendorIndex {
	return &vendorIndex{
		threshold: threshold,
		blobs:     make(map[string]string),
		typeHints: make(map[string]string),
		seen:      make(map[string]struct{}),
	}
}

func (x *vendorIndex) reference(id string) {
	if _, ok := x.seen[id]; ok {
		return
	}
	x.seen[id] = struct{}{}
	x.order = append(x.order, id)
}

// hint records a type hint; a later hint for the same id replaces an earlier one
func (x *vendorIndex) hint(id, ty string) {
	if ty != "" {
		x.typeHints[id] = ty
	}
}

func (x *vendorIndex) visit(value []byte, dataType jsonparser.ValueType) error {
	switch dataType {
	case jsonparser.Object:
		x.collect(value)
		return jsonparser.ObjectEach(value, func(_ []byte, child []byte, childType jsonparser.ValueType, _ int) error {
			return x.visit(child, childType)
		})
	case jsonparser.Array:
		var walkErr error
		_, err := jsonparser.ArrayEach(value, func(child []byte, childType jsonparser.ValueType, _ int, _ error) {
			if walkErr == nil {
				walkErr = x.visit(child, childType)
			}
		})
		if err != nil {
			return err
		}
		return walkErr
	}
	return nil
}

// collect reads the blob table and references held directly by one object
func (x *vendorIndex) collect(obj []byte) {
	if bidt, vt, _, err := jsonparser.Get(obj, "bidt"); err == nil && vt == jsonparser.Object {
		_ = jsonparser.ObjectEach(bidt, func(key []byte, v []byte, t jsonparser.ValueType, _ int) error {
			if t != jsonparser.String {
				return nil
			}
			s, err := jsonparser.ParseString(v)
			if err != nil || len(s) <= x.threshold {
				return nil
			}
			x.blobs[unescapeKey(key)] = s
			return nil
		})
	}

	if bi, vt, _, err := jsonparser.Get(obj, "bi"); err == nil {
		switch vt {
		case jsonparser.String:
			if id, err := jsonparser.ParseString(bi); err == nil {
				x.reference(id)
				if ty, err := jsonparser.GetString(obj, "ty"); err == nil {
					x.hint(id, ty)
				}
			}
		case jsonparser.Array:
			_, _ = jsonparser.ArrayEach(bi, func(entry []byte, et jsonparser.ValueType, _ int, _ error) {
				if et != jsonparser.Object {
					return
				}
				sr, err := jsonparser.GetString(entry, "sr")
				if err != nil {
					return
				}
				x.reference(sr)
				if ty, err := jsonparser.GetString(entry, "ty"); err == nil {
					x.hint(sr, ty)
				}
			})
		}
	}

	if img, vt, _, err := jsonparser.Get(obj, "img"); err == nil && vt == jsonparser.Object {
		if id, err := jsonparser.GetString(img, "bi"); err == nil {
			x.reference(id)
		}
	}
}

func (x *vendorIndex) mimeFor(id string) string {
	if ty := x.typeHints[id]; strings.HasPrefix(ty, "image/") {
		return ty
	}
	lower := strings.ToLower(id)
	switch {
	case jpegRefPattern.MatchString(lower):
		return types.MimeJPEG
	case strings.HasSuffix(lower, ".png"):
		return types.MimePNG
	case strings.HasSuffix(lower, ".gif"):
		return types.MimeGIF
	}
	return types.MimePNG
}

func unescapeKey(key []byte) string {
	if s, err := jsonparser.ParseString(key); err == nil {
		return s
	}
	return string(key)
}

func vendorFileName(id, mime string) string {
	base := path.Base(strings.ReplaceAll(id, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "vendor"
	}
	if path.Ext(base) != "" {
		return base
	}
	return fmt.Sprintf("%s.%s", base, extensionFor(mime))
}
