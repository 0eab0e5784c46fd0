package editor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtensor/pastebridge/pkg/config"
	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/interfaces"
	"github.com/memtensor/pastebridge/pkg/logger"
	"github.com/memtensor/pastebridge/pkg/types"
)

func newDoc(t *testing.T, initial string) *Document {
	t.Helper()
	d, err := NewDocument(initial)
	require.NoError(t, err)
	return d
}

func TestDocumentInsertHTML(t *testing.T) {
	d := newDoc(t, "<p>start</p>")
	ctx := context.Background()

	require.NoError(t, d.Exec(ctx, CommandPasteHTML, `<img src="https://cdn/a.png" alt="pasted-image"/>`))
	require.NoError(t, d.InsertHTML(ctx, "<b>end</b>"))

	html := d.HTML()
	assert.Contains(t, html, `<p>start</p><img src="https://cdn/a.png" alt="pasted-image"/><b>end</b>`)
	assert.Equal(t, "startend", d.Text())
}

func TestDocumentCommands(t *testing.T) {
	d := newDoc(t, "")
	ctx := context.Background()

	require.NoError(t, d.Exec(ctx, CommandFocus))
	require.NoError(t, d.Exec(ctx, CommandEnableWYSIWYG))
	assert.True(t, d.Focused())
	assert.True(t, d.Editable())

	assert.True(t, pberrors.HasCode(d.Exec(ctx, Command("BOLD")), pberrors.ErrCodeInvalidInput))
	assert.Error(t, d.Exec(ctx, CommandPasteHTML))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, d.InsertHTML(cancelled, "<p>x</p>"))
}

func TestDocumentImageRefs(t *testing.T) {
	d := newDoc(t, `<img src="data:image/png;base64,AAAA" alt="a"><img><p style="color:red">x</p>`+
		`<div style="background-image: url('blob:https://host/1')">y</div><img src="https://cdn/b.png">`)

	refs := d.ImageRefs()
	require.Len(t, refs, 3)
	assert.Equal(t, types.ImageRef{Index: 0, Kind: types.ImageRefSrc, URL: "data:image/png;base64,AAAA", Alt: "a"}, refs[0])
	assert.Equal(t, types.ImageRef{Index: 1, Kind: types.ImageRefSrc, URL: "https://cdn/b.png"}, refs[1])
	assert.Equal(t, types.ImageRef{Index: 2, Kind: types.ImageRefBackground, URL: "blob:https://host/1"}, refs[2])
}

func TestDocumentSetAndRemoveImageRef(t *testing.T) {
	d := newDoc(t, `<img src="data:image/png;base64,AAAA"><span style="background:url(data:image/gif;base64,R0lG) no-repeat">s</span><img src="file:///x.png">`)
	refs := d.ImageRefs()
	require.Len(t, refs, 3)

	require.NoError(t, d.SetImageRef(refs[0], "https://cdn/a.png"))
	require.NoError(t, d.SetImageRef(refs[2], "https://cdn/bg.gif"))
	require.NoError(t, d.RemoveImageRef(refs[1]))

	html := d.HTML()
	assert.Contains(t, html, `src="https://cdn/a.png"`)
	assert.Contains(t, html, `background:url(https://cdn/bg.gif) no-repeat`)
	assert.NotContains(t, html, "file:")
	assert.NotContains(t, html, "data:")
}

func TestDocumentStaleRef(t *testing.T) {
	d := newDoc(t, `<img src="data:image/png;base64,AAAA">`)
	ref := d.ImageRefs()[0]
	require.NoError(t, d.InsertHTML(context.Background(), "<p>more</p>"))
	require.NoError(t, d.SetImageRef(ref, "https://cdn/a.png"))

	err := d.SetImageRef(ref, "https://cdn/other.png")
	assert.True(t, pberrors.HasCode(err, pberrors.ErrCodeNotFound))

	err = d.RemoveImageRef(types.ImageRef{Index: 9, Kind: types.ImageRefSrc})
	assert.Error(t, err)
}

func TestBackgroundOf(t *testing.T) {
	assert.Equal(t, "x.png", backgroundOf(`background-image: url("x.png")`))
	assert.Equal(t, "data:image/png;base64,AA", backgroundOf(`color:red; background: #fff url(data:image/png;base64,AA) repeat`))
	assert.Equal(t, "", backgroundOf(`color:red`))
	assert.Equal(t, "", backgroundOf(`list-style-image: url(x.png)`))
}

func TestHTTPFetcher(t *testing.T) {
	gif := []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\x00\x00\x00\xff\xff\xff!\xf9\x04\x01\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public/uploads/a.gif":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(gif)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(srv.URL, time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	data, mime, err := f.Fetch(ctx, "/public/uploads/a.gif")
	require.NoError(t, err)
	assert.Equal(t, gif, data)
	assert.Equal(t, "image/gif", mime)

	_, _, err = f.Fetch(ctx, "/missing.png")
	assert.Error(t, err)

	_, _, err = f.Fetch(ctx, "blob:https://host/uuid")
	assert.Error(t, err)
	_, _, err = f.Fetch(ctx, "file:///C:/x.png")
	assert.Error(t, err)
}

// stubEditor wraps a Document and can fail Focus
type stubEditor struct {
	doc      *Document
	focusErr error
}

func (s *stubEditor) InsertHTML(ctx context.Context, markup string) error {
	return s.doc.InsertHTML(ctx, markup)
}

func (s *stubEditor) Focus() error {
	if s.focusErr != nil {
		return s.focusErr
	}
	return s.doc.Focus()
}

func (s *stubEditor) EnableEditing() error { return s.doc.EnableEditing() }

func (s *stubEditor) Document() interfaces.Document { return s.doc }

var _ interfaces.Editor = (*stubEditor)(nil)

func fastEditorConfig(attempts uint64) *config.EditorConfig {
	cfg := config.NewEditorConfig()
	cfg.ReadyMaxAttempts = attempts
	cfg.ReadyInterval = 5 * time.Millisecond
	return cfg
}

func TestAttacherNotifyReady(t *testing.T) {
	a := NewAttacher(fastEditorConfig(3), nil, logger.NewTestLogger())
	d := newDoc(t, "")
	a.NotifyReady(d)
	a.NotifyReady(newDoc(t, "ignored"))

	ed, err := a.Attach(context.Background())
	require.NoError(t, err)
	assert.Same(t, d, ed)
	assert.True(t, d.Focused())
	assert.True(t, d.Editable())
}

func TestAttacherPollsLocator(t *testing.T) {
	d := newDoc(t, "")
	var calls atomic.Int32
	locator := func(ctx context.Context) (interfaces.Editor, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("iframe not loaded")
		}
		return d, nil
	}

	ed, err := NewAttacher(fastEditorConfig(5), locator, logger.NewTestLogger()).Attach(context.Background())
	require.NoError(t, err)
	assert.Same(t, d, ed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAttacherGivesUp(t *testing.T) {
	var calls atomic.Int32
	locator := func(ctx context.Context) (interfaces.Editor, error) {
		calls.Add(1)
		return nil, nil
	}

	_, err := NewAttacher(fastEditorConfig(4), locator, logger.NewTestLogger()).Attach(context.Background())
	require.Error(t, err)
	assert.True(t, pberrors.HasCode(err, pberrors.ErrCodeEditorNotReady))
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 4, pberrors.GetPasteError(err).Details["attempts"])
}

func TestAttacherFocusFailure(t *testing.T) {
	a := NewAttacher(fastEditorConfig(1), nil, logger.NewTestLogger())
	d := newDoc(t, "")
	a.NotifyReady(&stubEditor{doc: d, focusErr: errors.New("detached")})
	_, err := a.Attach(context.Background())
	assert.True(t, pberrors.HasCode(err, pberrors.ErrCodeInternal))
	assert.False(t, d.Editable())
}

func TestAttacherWrappedEditor(t *testing.T) {
	a := NewAttacher(fastEditorConfig(1), nil, logger.NewTestLogger())
	d := newDoc(t, "")
	a.NotifyReady(&stubEditor{doc: d})

	ed, err := a.Attach(context.Background())
	require.NoError(t, err)
	require.NoError(t, ed.InsertHTML(context.Background(), "<p>hi</p>"))
	assert.True(t, d.Focused())
	assert.True(t, d.Editable())
	assert.Contains(t, ed.Document().HTML(), "<p>hi</p>")
}
