package extractors

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/memtensor/pastebridge/pkg/readers"
	"github.com/memtensor/pastebridge/pkg/types"
)

var (
	pictStart   = regexp.MustCompile(`\\pict(?:[^a-zA-Z]|$)`)
	controlWord = regexp.MustCompile(`\\([a-zA-Z]+)(-?\d+)? ?`)
	nonHex      = regexp.MustCompile(`[^0-9A-Fa-f]`)
)

// rtfPicture is the top-level content of one \pict group. Nested groups such
// as {\*\picprop ...} and {\*\blipuid ...} are excluded.
type rtfPicture struct {
	words []string
	body  string
}

// scanPictures returns every \pict group of rtf in document order
func scanPictures(rtf string) []rtfPicture {
	var pictures []rtfPicture
	offset := 0
	for {
		loc := pictStart.FindStringIndex(rtf[offset:])
		if loc == nil {
			return pictures
		}
		start := offset + loc[0] + len(`\pict`)
		own, end := groupContent(rtf, start)
		pictures = append(pictures, parsePicture(own))
		offset = end
	}
}

// groupContent collects the text from start up to the brace closing the
// current group, skipping nested groups. It returns the content and the
// offset just past the closing brace, or the end of input.
func groupContent(rtf string, start int) (string, int) {
	var b strings.Builder
	depth := 0
	for i := start; i < len(rtf); i++ {
		c := rtf[i]
		switch {
		case c == '\\' && i+1 < len(rtf) && (rtf[i+1] == '{' || rtf[i+1] == '}' || rtf[i+1] == '\\'):
			// escaped literal, never part of the hex body
			i++
		case c == '{':
			depth++
		case c == '}':
			if depth == 0 {
				return b.String(), i + 1
			}
			depth--
			if depth == 0 {
				// a skipped group delimits the control word before it
				b.WriteByte(' ')
			}
		case depth == 0:
			b.WriteByte(c)
		}
	}
	return b.String(), len(rtf)
}

func parsePicture(own string) rtfPicture {
	var words []string
	for _, m := range controlWord.FindAllStringSubmatch(own, -1) {
		words = append(words, m[1])
	}
	body := controlWord.ReplaceAllString(own, "")
	return rtfPicture{words: words, body: nonHex.ReplaceAllString(body, "")}
}

func (p rtfPicture) has(word string) bool {
	for _, w := range p.words {
		if w == word {
			return true
		}
	}
	return false
}

// mime returns the blip type, or "" for formats that are not uploaded
func (p rtfPicture) mime() string {
	switch {
	case p.has("pngblip"):
		return types.MimePNG
	case p.has("jpegblip"), p.has("jpgblip"):
		return types.MimeJPEG
	}
	return ""
}

// RTFPictureExtractor decodes PNG and JPEG pictures embedded as hex in RTF
type RTFPictureExtractor struct {
	minBytes int
}

// NewRTFPictureExtractor creates an extractor that drops pictures smaller than minBytes
func NewRTFPictureExtractor(minBytes int) *RTFPictureExtractor {
	return &RTFPictureExtractor{minBytes: minBytes}
}

// Kind identifies the extraction strategy
func (e *RTFPictureExtractor) Kind() types.ExtractorKind { return types.ExtractorRTFPicture }

// Extract scans the RTF representation
func (e *RTFPictureExtractor) Extract(payload *types.ClipboardPayload) ([]types.ImageTask, error) {
	if payload == nil || !strings.Contains(payload.RTF, `\pict`) {
		return nil, nil
	}

	var tasks []types.ImageTask
	for _, pic := range scanPictures(payload.RTF) {
		mime := pic.mime()
		if mime == "" || pic.has("bin") {
			continue
		}
		digits := pic.body
		if len(digits)%2 == 1 {
			digits = digits[:len(digits)-1]
		}
		if len(digits) < 20 {
			continue
		}
		data, err := hex.DecodeString(digits)
		if err != nil || len(data) < e.minBytes {
			continue
		}
		if detected := readers.DetectMime(data); strings.HasPrefix(detected, "image/") {
			mime = detected
		}

		idx := len(tasks)
		tasks = append(tasks, types.ImageTask{
			SourceKind:    types.SourceRTFPicture,
			Data:          data,
			MimeType:      mime,
			Name:          fmt.Sprintf("rtf-pasted-%d.%s", idx, extensionFor(mime)),
			OriginalIndex: idx,
			GroupKey:      fmt.Sprintf("rtf:%d", idx),
		})
	}
	return tasks, nil
}
