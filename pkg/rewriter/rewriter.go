// Package rewriter splices uploaded URLs back into pasted markup
package rewriter

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/memtensor/pastebridge/pkg/types"
)

var (
	backgroundFileURL = regexp.MustCompile(`(?i)url\(\s*(['"]?)\s*file:[^)]*\)`)
	fileImgTag        = regexp.MustCompile(`(?i)<img\b[^>]*\bsrc\s*=\s*['"]?file:[^'">]*['"]?[^>]*>`)
	hasUnit           = regexp.MustCompile(`[a-zA-Z%]`)
)

// Result reports what a rewrite did
type Result struct {
	HTML     string
	Replaced int
	Stripped int
}

// Rewrite replaces literal keys from m, substitutes file references in
// document order with vendorURLs and neutralizes background file URLs.
// Running it again on its own output changes nothing.
func Rewrite(markup string, m types.RewriteMap, vendorURLs []string) Result {
	out := ReplaceLiterals(markup, m)
	res := Result{HTML: out}
	if len(vendorURLs) > 0 {
		res = ReplaceFileRefs(out, vendorURLs)
	}
	res.HTML = SanitizeBackgroundFileURLs(res.HTML)
	return res
}

// ReplaceLiterals replaces every occurrence of each key with its URL.
// Longer keys go first so a key that prefixes another never splits it.
func ReplaceLiterals(markup string, m types.RewriteMap) string {
	if markup == "" || len(m) == 0 {
		return markup
	}
	for _, key := range m.KeysLongestFirst() {
		if key == "" {
			continue
		}
		markup = strings.ReplaceAll(markup, key, m[key])
	}
	return markup
}

// ReplaceFileRefs gives the Nth element whose src starts with file: the Nth
// URL. An empty URL or running out of URLs removes the src attribute. Width
// and height attributes carrying units move into the inline style of images.
// Markup outside the touched tags is copied through byte for byte.
func ReplaceFileRefs(markup string, urls []string) Result {
	res := Result{HTML: markup}
	if markup == "" || len(urls) == 0 {
		return res
	}

	var (
		out bytes.Buffer
		idx int
	)
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				return Result{HTML: markup}
			}
			break
		}
		raw := append([]byte(nil), z.Raw()...)
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			out.Write(raw)
			continue
		}

		tok := z.Token()
		src := attrIndex(tok.Attr, "src")
		if src < 0 || !isFileRef(tok.Attr[src].Val) {
			out.Write(raw)
			continue
		}

		var url string
		if idx < len(urls) {
			url = urls[idx]
		}
		idx++
		if url == "" {
			tok.Attr = append(tok.Attr[:src], tok.Attr[src+1:]...)
			res.Stripped++
		} else {
			tok.Attr[src].Val = url
			res.Replaced++
			if tok.Data == "img" {
				tok.Attr = migrateDimensions(tok.Attr)
			}
		}
		out.WriteString(renderTag(tok, tt == html.SelfClosingTagToken))
	}

	res.HTML = out.String()
	return res
}

// SanitizeBackgroundFileURLs replaces CSS url(file:...) values with none
func SanitizeBackgroundFileURLs(markup string) string {
	if !strings.Contains(strings.ToLower(markup), "file:") {
		return markup
	}
	return backgroundFileURL.ReplaceAllString(markup, "none")
}

// StripFileRefs removes images pointing at file: and neutralizes background file URLs
func StripFileRefs(markup string) string {
	return SanitizeBackgroundFileURLs(fileImgTag.ReplaceAllString(markup, ""))
}

// CountFileRefs returns how many elements carry a file: src
func CountFileRefs(markup string) int {
	n := 0
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return n
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tok := z.Token()
		if i := attrIndex(tok.Attr, "src"); i >= 0 && isFileRef(tok.Attr[i].Val) {
			n++
		}
	}
}

func isFileRef(v string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(v)), "file:")
}

func attrIndex(attrs []html.Attribute, key string) int {
	for i, a := range attrs {
		if a.Namespace == "" && a.Key == key {
			return i
		}
	}
	return -1
}

func migrateDimensions(attrs []html.Attribute) []html.Attribute {
	var extra strings.Builder
	kept := attrs[:0]
	for _, a := range attrs {
		if (a.Key == "width" || a.Key == "height") && hasUnit.MatchString(a.Val) {
			extra.WriteString(a.Key + ":" + a.Val + ";")
			continue
		}
		kept = append(kept, a)
	}
	if extra.Len() == 0 {
		return kept
	}

	if i := attrIndex(kept, "style"); i >= 0 {
		style := kept[i].Val
		if style != "" && !strings.HasSuffix(strings.TrimSpace(style), ";") {
			style += ";"
		}
		kept[i].Val = style + extra.String()
		return kept
	}
	return append(kept, html.Attribute{Key: "style", Val: extra.String()})
}

func renderTag(tok html.Token, selfClosing bool) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(tok.Data)
	for _, a := range tok.Attr {
		b.WriteByte(' ')
		if a.Namespace != "" {
			b.WriteString(a.Namespace + ":")
		}
		b.WriteString(a.Key)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(a.Val))
		b.WriteByte('"')
	}
	if selfClosing {
		b.WriteString(" />")
	} else {
		b.WriteByte('>')
	}
	return b.String()
}
