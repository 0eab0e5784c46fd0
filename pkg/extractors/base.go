// Package extractors finds embedded images in clipboard representations
package extractors

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/memtensor/pastebridge/pkg/config"
	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/interfaces"
	"github.com/memtensor/pastebridge/pkg/types"
)

// Registry maps extractor kinds to implementations
type Registry struct {
	mu         sync.RWMutex
	extractors map[types.ExtractorKind]interfaces.Extractor
}

// NewRegistry creates a registry holding the default extractors configured by cfg
func NewRegistry(cfg *config.PipelineConfig) *Registry {
	if cfg == nil {
		cfg = config.NewPipelineConfig()
	}
	r := &Registry{extractors: make(map[types.ExtractorKind]interfaces.Extractor)}

	// Defaults cannot collide, so registration errors are impossible here
	_ = r.Register(NewNativeFileExtractor())
	_ = r.Register(NewHTMLDataURIExtractor())
	_ = r.Register(NewVendorJSONExtractor(cfg.VendorMarkers, cfg.VendorNoiseThreshold))
	_ = r.Register(NewRTFPictureExtractor(cfg.RTFMinBytes))
	return r
}

// Register adds or replaces the extractor for its kind
func (r *Registry) Register(e interfaces.Extractor) error {
	if e == nil {
		return fmt.Errorf("extractor cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[e.Kind()] = e
	return nil
}

// Get returns the extractor registered for kind
func (r *Registry) Get(kind types.ExtractorKind) (interfaces.Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[kind]
	return e, ok
}

// Kinds lists the registered kinds in lexical order
func (r *Registry) Kinds() []types.ExtractorKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]types.ExtractorKind, 0, len(r.extractors))
	for k := range r.extractors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Run executes the extractor for kind, converting panics and errors into an
// ExtractFailure with no tasks.
func (r *Registry) Run(kind types.ExtractorKind, payload *types.ClipboardPayload) (tasks []types.ImageTask, err error) {
	e, ok := r.Get(kind)
	if !ok {
		return nil, pberrors.NewExtractFailure(kind, fmt.Errorf("no extractor registered"))
	}

	defer func() {
		if rec := recover(); rec != nil {
			tasks = nil
			err = pberrors.NewExtractFailure(kind, fmt.Errorf("panic: %v", rec))
		}
	}()

	tasks, err = e.Extract(payload)
	if err != nil {
		if !pberrors.IsPasteError(err) {
			err = pberrors.NewExtractFailure(kind, err)
		}
		return nil, err
	}
	return tasks, nil
}

// extensionFor maps an image MIME type to a file extension
func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case types.MimeJPEG:
		return "jpg"
	case "image/svg+xml":
		return "svg"
	case "":
		return "png"
	}
	if _, sub, ok := strings.Cut(mimeType, "/"); ok && sub != "" {
		return strings.ToLower(sub)
	}
	return "png"
}
