// Package types defines the core types shared by the pastebridge pipeline
package types

import (
	"context"
	"encoding/base64"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NativeItemKind distinguishes clipboard file items from raw blobs
type NativeItemKind string

const (
	NativeItemFile NativeItemKind = "file"
	NativeItemBlob NativeItemKind = "blob"
)

// NativeItem is one native clipboard or drop item
type NativeItem struct {
	Kind     NativeItemKind `json:"kind"`
	MimeType string         `json:"mime_type"`
	Data     []byte         `json:"-"`
	Name     string         `json:"name,omitempty"`
}

// IsImage reports whether the item declares an image MIME type
func (n NativeItem) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(n.MimeType), "image")
}

// ClipboardPayload is an immutable snapshot of one paste or drop event
type ClipboardPayload struct {
	HTML        string       `json:"html,omitempty"`
	RTF         string       `json:"rtf,omitempty"`
	Text        string       `json:"text,omitempty"`
	NativeItems []NativeItem `json:"native_items,omitempty"`
}

// ImageItems returns the native items carrying an image MIME type, in item order
func (p *ClipboardPayload) ImageItems() []NativeItem {
	if p == nil {
		return nil
	}
	var out []NativeItem
	for _, item := range p.NativeItems {
		if item.IsImage() {
			out = append(out, item)
		}
	}
	return out
}

// ItemTypes lists the declared MIME types of all native items
func (p *ClipboardPayload) ItemTypes() []string {
	if p == nil {
		return nil
	}
	types := make([]string, 0, len(p.NativeItems))
	for _, item := range p.NativeItems {
		types = append(types, item.MimeType)
	}
	return types
}

// IsEmpty reports whether no representation carries any content
func (p *ClipboardPayload) IsEmpty() bool {
	return p == nil || (p.HTML == "" && p.RTF == "" && p.Text == "" && len(p.NativeItems) == 0)
}

// SourceKind identifies where an image task came from
type SourceKind string

const (
	SourceNativeFile SourceKind = "native_file"
	SourceDataURI    SourceKind = "data_uri"
	SourceVendorRef  SourceKind = "vendor_ref"
	SourceRTFPicture SourceKind = "rtf_picture"
)

// ExtractorKind names an extraction strategy chosen by the classifier
type ExtractorKind string

const (
	ExtractorNativeFile   ExtractorKind = "native_file"
	ExtractorHTMLDataURI  ExtractorKind = "html_data_uri"
	ExtractorVendorJSON   ExtractorKind = "vendor_json"
	ExtractorRTFPicture   ExtractorKind = "rtf_picture"
	ExtractorFilePathHTML ExtractorKind = "file_path_html"
	ExtractorPlainText    ExtractorKind = "plain_text"
)

// Representation names one field of a ClipboardPayload
type Representation string

const (
	RepresentationHTML   Representation = "text/html"
	RepresentationRTF    Representation = "text/rtf"
	RepresentationText   Representation = "text/plain"
	RepresentationNative Representation = "native"
)

// Branch is the primary classification outcome of an event
type Branch string

const (
	BranchNative      Branch = "native"
	BranchDataURI     Branch = "data_uri"
	BranchFileRefs    Branch = "file_refs"
	BranchPassthrough Branch = "passthrough"
	BranchDrop        Branch = "drop"
)

const (
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeGIF  = "image/gif"
)

var (
	jpegNamePattern = regexp.MustCompile(`(?i)\.jpe?g$`)
	dataURIMime     = regexp.MustCompile(`(?i)^data:([^;,]+)[;,]`)
)

// ImageTask is the unit of work handed to the upload scheduler
type ImageTask struct {
	SourceKind    SourceKind `json:"source_kind"`
	DataURI       string     `json:"-"`
	Data          []byte     `json:"-"`
	MimeType      string     `json:"mime_type"`
	Name          string     `json:"name,omitempty"`
	OriginalIndex int        `json:"original_index"`
	GroupKey      string     `json:"group_key,omitempty"`
}

// IsJPEG reports whether the task carries a JPEG, by MIME type or file name
func (t ImageTask) IsJPEG() bool {
	mime := strings.ToLower(t.MimeType)
	if mime == "" && t.DataURI != "" {
		mime = MimeFromDataURI(t.DataURI)
	}
	return mime == MimeJPEG || jpegNamePattern.MatchString(t.Name)
}

// IsDataURI reports whether the payload travels as a data URI string
func (t ImageTask) IsDataURI() bool {
	return t.DataURI != ""
}

// Bytes returns the raw image bytes, decoding the data URI when needed
func (t ImageTask) Bytes() ([]byte, error) {
	if t.DataURI == "" {
		return t.Data, nil
	}
	_, payload, ok := strings.Cut(t.DataURI, ";base64,")
	if !ok {
		return nil, base64.CorruptInputError(0)
	}
	return base64.StdEncoding.DecodeString(payload)
}

// MimeFromDataURI returns the lower-cased media type of a data URI, or ""
func MimeFromDataURI(dataURI string) string {
	m := dataURIMime.FindStringSubmatch(dataURI)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// BuildDataURI assembles a base64 data URI
func BuildDataURI(mimeType, b64 string) string {
	return "data:" + mimeType + ";base64," + b64
}

// UploadResult pairs a task with its uploaded URL. An empty URL means the upload failed.
type UploadResult struct {
	Task ImageTask `json:"task"`
	URL  string    `json:"url,omitempty"`
	Err  error     `json:"-"`
}

// OK reports whether the upload produced a URL
func (r UploadResult) OK() bool { return r.URL != "" }

// RewriteMap maps a group key (literal string or reference id) to its uploaded URL
type RewriteMap map[string]string

// BuildRewriteMap collects successful results keyed by group key
func BuildRewriteMap(results []UploadResult) RewriteMap {
	m := make(RewriteMap, len(results))
	for _, r := range results {
		if r.OK() && r.Task.GroupKey != "" {
			m[r.Task.GroupKey] = r.URL
		}
	}
	return m
}

// KeysLongestFirst returns the keys ordered by descending length, then lexically
func (m RewriteMap) KeysLongestFirst() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

// URLsByOriginalIndex returns result URLs ordered by the task's original index.
// Failed uploads stay in place as empty strings.
func URLsByOriginalIndex(results []UploadResult) []string {
	ordered := make([]UploadResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Task.OriginalIndex < ordered[j].Task.OriginalIndex
	})
	urls := make([]string, len(ordered))
	for i, r := range ordered {
		urls[i] = r.URL
	}
	return urls
}

// ImageRefKind tells where a document image reference lives
type ImageRefKind string

const (
	ImageRefSrc        ImageRefKind = "src"
	ImageRefBackground ImageRefKind = "background"
)

// ImageRef is one image reference found in a live document
type ImageRef struct {
	Index int          `json:"index"`
	Kind  ImageRefKind `json:"kind"`
	URL   string       `json:"url"`
	Alt   string       `json:"alt,omitempty"`
}

// Verdict is the outcome of the duplicated-placeholder heuristic
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// ClipboardFlags summarizes what a clipboard snapshot contains
type ClipboardFlags struct {
	HasFileURLs bool `json:"hasFileUrls"`
	HasDataImg  bool `json:"hasDataImg"`
	RTFPict     bool `json:"rtfPict"`
}

// FileMeta describes one native item without its bytes
type FileMeta struct {
	Name string `json:"name"`
	Size int    `json:"size"`
	Type string `json:"type"`
}

// ClipboardSnapshot is the telemetry record sent for each paste
type ClipboardSnapshot struct {
	HTML      string         `json:"html"`
	RTF       string         `json:"rtf"`
	Text      string         `json:"text"`
	ItemTypes []string       `json:"itemTypes"`
	Files     []FileMeta     `json:"files"`
	Flags     ClipboardFlags `json:"flags"`
	Source    string         `json:"referrer,omitempty"`
	Verdict   Verdict        `json:"verdict"`
	Time      time.Time      `json:"time"`
}

// FinalContent is the telemetry record sent after a paste lands in the document
type FinalContent struct {
	SessionID string    `json:"session_id,omitempty"`
	HTML      string    `json:"html"`
	Text      string    `json:"text"`
	Time      time.Time `json:"time"`
}

// ReportResponse is what a telemetry collector answers
type ReportResponse struct {
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason,omitempty"`
}

// Error types for better error handling
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"
)

// Context keys for request context
type ContextKey string

const (
	ContextKeySessionID ContextKey = "session_id"
	ContextKeyRequestID ContextKey = "request_id"
)

// RequestContext holds request-specific context information
type RequestContext struct {
	SessionID string
	RequestID string
}

// GetRequestContext extracts request context from Go context
func GetRequestContext(ctx context.Context) *RequestContext {
	return &RequestContext{
		SessionID: getStringFromContext(ctx, ContextKeySessionID),
		RequestID: getStringFromContext(ctx, ContextKeyRequestID),
	}
}

func getStringFromContext(ctx context.Context, key ContextKey) string {
	if value := ctx.Value(key); value != nil {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return ""
}

// NewRequestContext creates a new request context with a generated request id
func NewRequestContext(sessionID string) *RequestContext {
	return &RequestContext{
		SessionID: sessionID,
		RequestID: uuid.New().String(),
	}
}
