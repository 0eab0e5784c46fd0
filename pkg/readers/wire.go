package readers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/memtensor/pastebridge/pkg/types"
)

// WireItem is a native item as sent over HTTP. Data is standard base64 or a data URI.
type WireItem struct {
	Kind string `json:"kind,omitempty"`
	Type string `json:"type,omitempty"`
	Name string `json:"name,omitempty"`
	Data string `json:"data"`
}

// WirePayload is the JSON form of a captured paste or drop event.
// Txt is accepted as an alias of Text for captured samples.
type WirePayload struct {
	HTML  string     `json:"html,omitempty"`
	RTF   string     `json:"rtf,omitempty"`
	Text  string     `json:"text,omitempty"`
	Txt   string     `json:"txt,omitempty"`
	Items []WireItem `json:"items,omitempty"`
	Files []WireItem `json:"files,omitempty"`
}

// WireSource adapts a WirePayload to interfaces.ClipboardSource
type WireSource struct {
	payload *WirePayload
}

// NewWireSource wraps p
func NewWireSource(p *WirePayload) *WireSource {
	if p == nil {
		p = &WirePayload{}
	}
	return &WireSource{payload: p}
}

// GetData returns one textual representation
func (s *WireSource) GetData(rep types.Representation) (string, error) {
	switch rep {
	case types.RepresentationHTML:
		return s.payload.HTML, nil
	case types.RepresentationRTF:
		return s.payload.RTF, nil
	case types.RepresentationText:
		if s.payload.Text != "" {
			return s.payload.Text, nil
		}
		return s.payload.Txt, nil
	default:
		return "", fmt.Errorf("unsupported representation %q", rep)
	}
}

// Items decodes the native items and dropped files. Items that fail to
// decode are skipped; the returned error lists them.
func (s *WireSource) Items() ([]types.NativeItem, error) {
	all := make([]WireItem, 0, len(s.payload.Items)+len(s.payload.Files))
	all = append(all, s.payload.Items...)
	all = append(all, s.payload.Files...)

	var (
		items []types.NativeItem
		errs  []error
	)
	for i, w := range all {
		item, err := decodeWireItem(w)
		if err != nil {
			errs = append(errs, fmt.Errorf("item %d (%s): %w", i, w.Name, err))
			continue
		}
		items = append(items, item)
	}
	return items, errors.Join(errs...)
}

func decodeWireItem(w WireItem) (types.NativeItem, error) {
	kind := types.NativeItemFile
	if w.Kind == string(types.NativeItemBlob) {
		kind = types.NativeItemBlob
	}
	item := types.NativeItem{Kind: kind, MimeType: strings.ToLower(w.Type), Name: w.Name}

	raw := w.Data
	if strings.HasPrefix(raw, "data:") {
		header, body, ok := strings.Cut(raw, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return item, errors.New("data URI is not base64")
		}
		if item.MimeType == "" {
			item.MimeType = types.MimeFromDataURI(raw)
		}
		raw = body
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return item, err
	}
	item.Data = data
	return item, nil
}

// PayloadToWire renders a payload back to its JSON form
func PayloadToWire(p *types.ClipboardPayload) *WirePayload {
	w := &WirePayload{HTML: p.HTML, RTF: p.RTF, Text: p.Text}
	for _, item := range p.NativeItems {
		w.Items = append(w.Items, WireItem{
			Kind: string(item.Kind),
			Type: item.MimeType,
			Name: item.Name,
			Data: base64.StdEncoding.EncodeToString(item.Data),
		})
	}
	return w
}
