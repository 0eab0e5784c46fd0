package extractors

import (
	"fmt"
	"regexp"

	"github.com/memtensor/pastebridge/pkg/types"
)

var dataURIPattern = regexp.MustCompile(`data:image/[a-zA-Z0-9.+-]+;base64,[A-Za-z0-9+/=]+`)

// FindDataURIs returns the distinct inline image data URIs of html in first-seen order
func FindDataURIs(html string) []string {
	if html == "" {
		return nil
	}
	found := dataURIPattern.FindAllString(html, -1)
	seen := make(map[string]struct{}, len(found))
	unique := make([]string, 0, len(found))
	for _, du := range found {
		if _, dup := seen[du]; dup {
			continue
		}
		seen[du] = struct{}{}
		unique = append(unique, du)
	}
	return unique
}

// HTMLDataURIExtractor turns inline data URIs into tasks. Identical URIs
// collapse into one task whose group key is the literal URI.
type HTMLDataURIExtractor struct{}

// NewHTMLDataURIExtractor creates the extractor
func NewHTMLDataURIExtractor() *HTMLDataURIExtractor {
	return &HTMLDataURIExtractor{}
}

// Kind identifies the extraction strategy
func (e *HTMLDataURIExtractor) Kind() types.ExtractorKind { return types.ExtractorHTMLDataURI }

// Extract scans the HTML representation
func (e *HTMLDataURIExtractor) Extract(payload *types.ClipboardPayload) ([]types.ImageTask, error) {
	if payload == nil {
		return nil, nil
	}
	uris := FindDataURIs(payload.HTML)
	tasks := make([]types.ImageTask, 0, len(uris))
	for i, du := range uris {
		mime := types.MimeFromDataURI(du)
		tasks = append(tasks, types.ImageTask{
			SourceKind:    types.SourceDataURI,
			DataURI:       du,
			MimeType:      mime,
			Name:          fmt.Sprintf("pasted-%d.%s", i, extensionFor(mime)),
			OriginalIndex: i,
			GroupKey:      du,
		})
	}
	return tasks, nil
}
