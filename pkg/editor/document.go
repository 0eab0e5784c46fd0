// Package editor adapts a rich-text editing surface to the narrow capability
// set the paste pipeline needs.
package editor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/interfaces"
	"github.com/memtensor/pastebridge/pkg/types"
)

// Command is one of the editor commands the pipeline issues
type Command string

const (
	CommandPasteHTML     Command = "PASTE_HTML"
	CommandFocus         Command = "FOCUS"
	CommandEnableWYSIWYG Command = "ENABLE_WYSIWYG"
)

var (
	backgroundDecl = regexp.MustCompile(`(?i)background(?:-image)?\s*:[^:]*?url\(\s*['"]?([^'")]*)['"]?\s*\)`)
	cssURL         = regexp.MustCompile(`(?i)url\(\s*['"]?([^'")]*)['"]?\s*\)`)
)

// Document is an in-memory editing surface backed by a parsed HTML tree.
// It implements both interfaces.Editor and interfaces.Document.
type Document struct {
	mu       sync.RWMutex
	doc      *goquery.Document
	focused  bool
	editable bool
}

// NewDocument creates a document whose body holds initial
func NewDocument(initial string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><head></head><body>" + initial + "</body></html>"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Exec runs a typed command
func (d *Document) Exec(ctx context.Context, cmd Command, args ...string) error {
	switch cmd {
	case CommandPasteHTML:
		if len(args) != 1 {
			return pberrors.NewInvalidInputError("PASTE_HTML takes exactly one argument")
		}
		return d.InsertHTML(ctx, args[0])
	case CommandFocus:
		return d.Focus()
	case CommandEnableWYSIWYG:
		return d.EnableEditing()
	default:
		return pberrors.NewInvalidInputError(fmt.Sprintf("unknown editor command %q", cmd))
	}
}

// InsertHTML appends markup at the cursor, which is the end of the body
func (d *Document) InsertHTML(ctx context.Context, markup string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if markup == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doc.Find("body").AppendHtml(markup)
	return nil
}

// Focus marks the surface focused
func (d *Document) Focus() error {
	d.mu.Lock()
	d.focused = true
	d.mu.Unlock()
	return nil
}

// EnableEditing switches the surface to WYSIWYG editing
func (d *Document) EnableEditing() error {
	d.mu.Lock()
	d.editable = true
	d.mu.Unlock()
	return nil
}

// Focused reports whether Focus was called
func (d *Document) Focused() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.focused
}

// Editable reports whether EnableEditing was called
func (d *Document) Editable() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.editable
}

// Document returns the live document
func (d *Document) Document() interfaces.Document { return d }

// HTML returns the body markup
func (d *Document) HTML() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out, err := d.doc.Find("body").Html()
	if err != nil {
		return ""
	}
	return out
}

// Text returns the body text content
func (d *Document) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.doc.Find("body").Text()
}

// ImageRefs lists every img src followed by every inline background URL,
// each group in document order
func (d *Document) ImageRefs() []types.ImageRef {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var refs []types.ImageRef
	d.eachRef(func(ref types.ImageRef, _ *goquery.Selection) bool {
		refs = append(refs, ref)
		return true
	})
	return refs
}

// SetImageRef points ref at url. It fails if the document changed since ref was read.
func (d *Document) SetImageRef(ref types.ImageRef, url string) error {
	return d.updateRef(ref, func(sel *goquery.Selection) {
		switch ref.Kind {
		case types.ImageRefSrc:
			sel.SetAttr("src", url)
		case types.ImageRefBackground:
			style, _ := sel.Attr("style")
			sel.SetAttr("style", replaceBackground(style, ref.URL, "url("+url+")"))
		}
	})
}

// RemoveImageRef drops the src attribute or sets the background to none
func (d *Document) RemoveImageRef(ref types.ImageRef) error {
	return d.updateRef(ref, func(sel *goquery.Selection) {
		switch ref.Kind {
		case types.ImageRefSrc:
			sel.RemoveAttr("src")
		case types.ImageRefBackground:
			style, _ := sel.Attr("style")
			sel.SetAttr("style", replaceBackground(style, ref.URL, "none"))
		}
	})
}

func (d *Document) updateRef(ref types.ImageRef, apply func(sel *goquery.Selection)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	found := false
	d.eachRef(func(cur types.ImageRef, sel *goquery.Selection) bool {
		if cur.Index != ref.Index {
			return true
		}
		found = true
		if cur.Kind == ref.Kind && cur.URL == ref.URL {
			apply(sel)
		} else {
			found = false
		}
		return false
	})
	if !found {
		return pberrors.NewNotFoundError("image reference").
			WithDetail("index", ref.Index).WithDetail("url", ref.URL)
	}
	return nil
}

// eachRef walks refs in ImageRefs order until fn returns false. Callers hold the lock.
func (d *Document) eachRef(fn func(ref types.ImageRef, sel *goquery.Selection) bool) {
	idx := 0
	stop := false
	body := d.doc.Find("body")

	body.Find("img").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src, ok := sel.Attr("src")
		if !ok || src == "" {
			return true
		}
		alt, _ := sel.Attr("alt")
		ref := types.ImageRef{Index: idx, Kind: types.ImageRefSrc, URL: src, Alt: alt}
		idx++
		stop = !fn(ref, sel)
		return !stop
	})
	if stop {
		return
	}

	body.Find("[style]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		style, _ := sel.Attr("style")
		url := backgroundOf(style)
		if url == "" {
			return true
		}
		ref := types.ImageRef{Index: idx, Kind: types.ImageRefBackground, URL: url}
		idx++
		return fn(ref, sel)
	})
}

// backgroundOf returns the url of a background or background-image declaration
func backgroundOf(style string) string {
	if m := backgroundDecl.FindStringSubmatch(style); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func replaceBackground(style, url, replacement string) string {
	return cssURL.ReplaceAllStringFunc(style, func(m string) string {
		if strings.TrimSpace(cssURL.FindStringSubmatch(m)[1]) == url {
			return replacement
		}
		return m
	})
}
