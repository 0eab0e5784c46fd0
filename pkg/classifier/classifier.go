// Package classifier decides which clipboard representation is authoritative
package classifier

import (
	"regexp"

	"github.com/memtensor/pastebridge/pkg/types"
)

var (
	dataImagePattern = regexp.MustCompile(`(?i)data:image/`)
	fileRefPattern   = regexp.MustCompile(`(?i)file://`)
	rtfPictPattern   = regexp.MustCompile(`\\pict`)
)

// Step is one extraction attempt against one representation
type Step struct {
	Kind           types.ExtractorKind  `json:"kind"`
	Representation types.Representation `json:"representation"`
}

// Plan is the classification of one event. Steps are tried in order and the
// first one yielding images wins; file-path stripping always ends the file
// reference cascade.
type Plan struct {
	Branch types.Branch `json:"branch"`
	Steps  []Step       `json:"steps"`
}

// Kinds lists the extractor kinds of the plan in order
func (p Plan) Kinds() []types.ExtractorKind {
	kinds := make([]types.ExtractorKind, len(p.Steps))
	for i, s := range p.Steps {
		kinds[i] = s.Kind
	}
	return kinds
}

// HasDataImage reports whether html carries an inline image data URI
func HasDataImage(html string) bool {
	return dataImagePattern.MatchString(html)
}

// HasFileRefs reports whether html points into the local filesystem
func HasFileRefs(html string) bool {
	return fileRefPattern.MatchString(html)
}

// HasRTFPicture reports whether rtf contains a picture group
func HasRTFPicture(rtf string) bool {
	return rtfPictPattern.MatchString(rtf)
}

// Classify picks exactly one primary branch, first match wins:
// native image items, inline data URIs, file:// references, plain text.
func Classify(p *types.ClipboardPayload) Plan {
	if p == nil {
		return passthrough()
	}

	switch {
	case len(p.ImageItems()) > 0:
		return Plan{
			Branch: types.BranchNative,
			Steps:  []Step{{Kind: types.ExtractorNativeFile, Representation: types.RepresentationNative}},
		}
	case HasDataImage(p.HTML):
		return Plan{
			Branch: types.BranchDataURI,
			Steps:  []Step{{Kind: types.ExtractorHTMLDataURI, Representation: types.RepresentationHTML}},
		}
	case HasFileRefs(p.HTML):
		return Plan{
			Branch: types.BranchFileRefs,
			Steps: []Step{
				{Kind: types.ExtractorVendorJSON, Representation: types.RepresentationHTML},
				{Kind: types.ExtractorRTFPicture, Representation: types.RepresentationRTF},
				{Kind: types.ExtractorFilePathHTML, Representation: types.RepresentationHTML},
			},
		}
	}
	return passthrough()
}

// ClassifyDrop only considers the dropped files
func ClassifyDrop(p *types.ClipboardPayload) Plan {
	if p == nil || len(p.ImageItems()) == 0 {
		return passthrough()
	}
	return Plan{
		Branch: types.BranchDrop,
		Steps:  []Step{{Kind: types.ExtractorNativeFile, Representation: types.RepresentationNative}},
	}
}

func passthrough() Plan {
	return Plan{
		Branch: types.BranchPassthrough,
		Steps:  []Step{{Kind: types.ExtractorPlainText, Representation: types.RepresentationText}},
	}
}
