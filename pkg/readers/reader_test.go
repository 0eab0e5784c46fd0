package readers

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/logger"
	"github.com/memtensor/pastebridge/pkg/types"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type MockSource struct {
	mock.Mock
}

func (m *MockSource) GetData(rep types.Representation) (string, error) {
	args := m.Called(rep)
	return args.String(0), args.Error(1)
}

func (m *MockSource) Items() ([]types.NativeItem, error) {
	args := m.Called()
	items, _ := args.Get(0).([]types.NativeItem)
	return items, args.Error(1)
}

type panickySource struct{}

func (panickySource) GetData(rep types.Representation) (string, error) {
	if rep == types.RepresentationRTF {
		panic("clipboard access denied")
	}
	return "ok", nil
}

func (panickySource) Items() ([]types.NativeItem, error) { panic("no items") }

func TestPayloadReader(t *testing.T) {
	reader := NewPayloadReader(logger.NewTestLogger())

	t.Run("Reads every representation", func(t *testing.T) {
		src := new(MockSource)
		src.On("GetData", types.RepresentationHTML).Return("<p>hi</p>", nil)
		src.On("GetData", types.RepresentationRTF).Return(`{\rtf1}`, nil)
		src.On("GetData", types.RepresentationText).Return("hi", nil)
		src.On("Items").Return([]types.NativeItem{{Kind: types.NativeItemFile, MimeType: "image/png", Name: "a.png"}}, nil)

		payload, failures := reader.Read(src)

		assert.False(t, failures.HasErrors())
		assert.Equal(t, "<p>hi</p>", payload.HTML)
		assert.Equal(t, `{\rtf1}`, payload.RTF)
		assert.Equal(t, "hi", payload.Text)
		require.Len(t, payload.NativeItems, 1)
		src.AssertExpectations(t)
	})

	t.Run("One failing representation does not block others", func(t *testing.T) {
		src := new(MockSource)
		src.On("GetData", types.RepresentationHTML).Return("", errors.New("denied"))
		src.On("GetData", types.RepresentationRTF).Return(`{\rtf1}`, nil)
		src.On("GetData", types.RepresentationText).Return("plain", nil)
		src.On("Items").Return(nil, nil)

		payload, failures := reader.Read(src)

		assert.Empty(t, payload.HTML)
		assert.Equal(t, "plain", payload.Text)
		require.Len(t, failures.Errors, 1)
		assert.Equal(t, pberrors.ErrCodeReadFailure, failures.Errors[0].Code)
	})

	t.Run("Panics are contained", func(t *testing.T) {
		payload, failures := reader.Read(panickySource{})

		assert.Equal(t, "ok", payload.HTML)
		assert.Empty(t, payload.RTF)
		assert.Equal(t, "ok", payload.Text)
		assert.Empty(t, payload.NativeItems)
		assert.Len(t, failures.Errors, 2)
	})

	t.Run("Untyped items are sniffed", func(t *testing.T) {
		src := new(MockSource)
		src.On("GetData", mock.Anything).Return("", nil)
		src.On("Items").Return([]types.NativeItem{{Kind: types.NativeItemBlob, Data: pngHeader}}, nil)

		payload, _ := reader.Read(src)

		require.Len(t, payload.NativeItems, 1)
		assert.Equal(t, "image/png", payload.NativeItems[0].MimeType)
		assert.Len(t, payload.ImageItems(), 1)
	})

	t.Run("Nil source", func(t *testing.T) {
		payload, failures := reader.Read(nil)
		assert.True(t, payload.IsEmpty())
		assert.False(t, failures.HasErrors())
	})
}

func TestWireSource(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString(pngHeader)

	t.Run("Txt alias", func(t *testing.T) {
		src := NewWireSource(&WirePayload{Txt: "captured"})
		text, err := src.GetData(types.RepresentationText)
		require.NoError(t, err)
		assert.Equal(t, "captured", text)
	})

	t.Run("Items from base64 and data URI", func(t *testing.T) {
		src := NewWireSource(&WirePayload{
			Items: []WireItem{{Type: "image/png", Name: "a.png", Data: b64}},
			Files: []WireItem{{Name: "b.png", Data: "data:image/png;base64," + b64}},
		})
		items, err := src.Items()
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, pngHeader, items[0].Data)
		assert.Equal(t, "image/png", items[1].MimeType)
	})

	t.Run("Bad item is skipped", func(t *testing.T) {
		src := NewWireSource(&WirePayload{Items: []WireItem{
			{Type: "image/png", Name: "broken", Data: "%%%"},
			{Type: "image/png", Name: "good", Data: b64},
		}})
		items, err := src.Items()
		assert.Error(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "good", items[0].Name)

		payload, failures := NewPayloadReader(logger.NewTestLogger()).Read(src)
		assert.Len(t, payload.NativeItems, 1)
		assert.True(t, failures.HasErrors())
	})

	t.Run("Round trip through wire form", func(t *testing.T) {
		p := &types.ClipboardPayload{HTML: "<b>x</b>", NativeItems: []types.NativeItem{
			{Kind: types.NativeItemFile, MimeType: "image/png", Name: "a.png", Data: pngHeader},
		}}
		back, failures := NewPayloadReader(logger.NewTestLogger()).Read(NewWireSource(PayloadToWire(p)))
		assert.False(t, failures.HasErrors())
		assert.Equal(t, p.HTML, back.HTML)
		assert.Equal(t, p.NativeItems, back.NativeItems)
	})
}
