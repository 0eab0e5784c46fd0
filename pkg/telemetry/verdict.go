// Package telemetry reports clipboard snapshots and final document content
// to an optional collector. Reports are best effort and never affect the
// paste pipeline.
package telemetry

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/memtensor/pastebridge/pkg/classifier"
	"github.com/memtensor/pastebridge/pkg/types"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripTags removes markup tags, keeping text content
func StripTags(html string) string {
	return tagPattern.ReplaceAllString(html, "")
}

// LocalVerdict fails when any placeholder phrase appears at least twice in
// text plus the tag-stripped html. Host applications insert such captions
// for images they could not paste, so a repeat means a duplicated image.
func LocalVerdict(text, html string, phrases []string) (types.Verdict, string) {
	corpus := text + "\n" + StripTags(html)
	for _, phrase := range phrases {
		if phrase == "" {
			continue
		}
		if n := strings.Count(corpus, phrase); n >= 2 {
			return types.VerdictFail, fmt.Sprintf("placeholder %q appears %d times", phrase, n)
		}
	}
	return types.VerdictPass, ""
}

// BuildSnapshot summarizes a payload for reporting
func BuildSnapshot(p *types.ClipboardPayload, phrases []string) *types.ClipboardSnapshot {
	if p == nil {
		p = &types.ClipboardPayload{}
	}
	files := make([]types.FileMeta, 0, len(p.NativeItems))
	for _, it := range p.NativeItems {
		files = append(files, types.FileMeta{Name: it.Name, Size: len(it.Data), Type: it.MimeType})
	}
	verdict, _ := LocalVerdict(p.Text, p.HTML, phrases)

	return &types.ClipboardSnapshot{
		HTML:      p.HTML,
		RTF:       p.RTF,
		Text:      p.Text,
		ItemTypes: p.ItemTypes(),
		Files:     files,
		Flags: types.ClipboardFlags{
			HasFileURLs: classifier.HasFileRefs(p.HTML),
			HasDataImg:  classifier.HasDataImage(p.HTML),
			RTFPict:     classifier.HasRTFPicture(p.RTF),
		},
		Verdict: verdict,
		Time:    time.Now().UTC(),
	}
}
