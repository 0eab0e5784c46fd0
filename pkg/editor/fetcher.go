package editor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/memtensor/pastebridge/pkg/readers"
)

// HTTPFetcher resolves non-remote image references against the page origin
// and downloads them for re-upload
type HTTPFetcher struct {
	client *resty.Client
	base   *url.URL
}

// NewHTTPFetcher creates a fetcher resolving relative references against baseURL
func NewHTTPFetcher(baseURL string, timeout time.Duration) (*HTTPFetcher, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid fetch base url: %w", err)
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("User-Agent", "PasteBridge/1.0")
	return &HTTPFetcher{client: client, base: base}, nil
}

// Fetch downloads ref and returns its bytes and media type
func (f *HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, "", fmt.Errorf("invalid reference %q: %w", ref, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "file", "blob":
		return nil, "", fmt.Errorf("%s: references cannot be fetched", u.Scheme)
	case "", "http", "https":
	default:
		return nil, "", fmt.Errorf("unsupported reference scheme %q", u.Scheme)
	}

	target := f.base.ResolveReference(u).String()
	resp, err := f.client.R().SetContext(ctx).Get(target)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", target, err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("fetch %s: status %d", target, resp.StatusCode())
	}

	body := resp.Body()
	mime := readers.DetectMime(body)
	if !strings.HasPrefix(mime, "image/") {
		if ct := resp.Header().Get("Content-Type"); ct != "" {
			mime, _, _ = strings.Cut(ct, ";")
		}
	}
	return body, strings.TrimSpace(mime), nil
}
