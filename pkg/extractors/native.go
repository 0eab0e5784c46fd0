package extractors

import (
	"fmt"

	"github.com/memtensor/pastebridge/pkg/types"
)

// NativeFileExtractor emits one task per native image item
type NativeFileExtractor struct{}

// NewNativeFileExtractor creates the extractor
func NewNativeFileExtractor() *NativeFileExtractor {
	return &NativeFileExtractor{}
}

// Kind identifies the extraction strategy
func (e *NativeFileExtractor) Kind() types.ExtractorKind { return types.ExtractorNativeFile }

// Extract reads the image items of the payload. Items without bytes are skipped
// but keep their position, so OriginalIndex always equals the item position.
func (e *NativeFileExtractor) Extract(payload *types.ClipboardPayload) ([]types.ImageTask, error) {
	if payload == nil {
		return nil, nil
	}
	var tasks []types.ImageTask
	for i, item := range payload.ImageItems() {
		if len(item.Data) == 0 {
			continue
		}
		name := item.Name
		if name == "" {
			name = fmt.Sprintf("pasted-%d.%s", i, extensionFor(item.MimeType))
		}
		tasks = append(tasks, types.ImageTask{
			SourceKind:    types.SourceNativeFile,
			Data:          item.Data,
			MimeType:      item.MimeType,
			Name:          name,
			OriginalIndex: i,
			GroupKey:      fmt.Sprintf("native:%d", i),
		})
	}
	return tasks, nil
}
