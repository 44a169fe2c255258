package decode

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qr-spider/pkg/decode/decodetest"
	"qr-spider/pkg/log"
	"qr-spider/pkg/utils"
)

// fakeStrategy records invocations and returns a fixed outcome.
type fakeStrategy struct {
	name    string
	payload string
	err     error
	panics  bool
	calls   *[]string
}

func (f fakeStrategy) Name() string { return f.name }

func (f fakeStrategy) TryDecode(*Frame) (string, error) {
	*f.calls = append(*f.calls, f.name)
	if f.panics {
		panic("boom")
	}
	return f.payload, f.err
}

func TestPipeline_EmptyBufferSkipsStrategies(t *testing.T) {
	var calls []string
	p := NewPipeline(log.Discard(), fakeStrategy{name: "a", payload: "x", calls: &calls})

	_, err := p.Decode(context.Background(), nil)
	assert.ErrorIs(t, err, utils.ErrEmptyImage)
	assert.Empty(t, calls)
}

func TestPipeline_FirstSuccessWins(t *testing.T) {
	var calls []string
	p := NewPipeline(log.Discard(),
		fakeStrategy{name: "a", err: errors.New("nope"), calls: &calls},
		fakeStrategy{name: "b", payload: "hello", calls: &calls},
		fakeStrategy{name: "c", payload: "never", calls: &calls},
	)

	res, err := p.Decode(context.Background(), []byte{1})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Payload)
	assert.Equal(t, "b", res.Strategy)
	assert.True(t, res.Succeeded)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestPipeline_EmptyPayloadIsFailure(t *testing.T) {
	var calls []string
	p := NewPipeline(log.Discard(),
		fakeStrategy{name: "a", payload: "", calls: &calls},
		fakeStrategy{name: "b", payload: "second", calls: &calls},
	)

	res, err := p.Decode(context.Background(), []byte{1})
	require.NoError(t, err)
	assert.Equal(t, "second", res.Payload)
}

func TestPipeline_PanicFallsThrough(t *testing.T) {
	var calls []string
	p := NewPipeline(log.Discard(),
		fakeStrategy{name: "a", panics: true, calls: &calls},
		fakeStrategy{name: "b", payload: "ok", calls: &calls},
	)

	res, err := p.Decode(context.Background(), []byte{1})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Payload)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestPipeline_Exhausted(t *testing.T) {
	var calls []string
	p := NewPipeline(log.Discard(),
		fakeStrategy{name: "a", err: errors.New("first failure"), calls: &calls},
		fakeStrategy{name: "b", panics: true, calls: &calls},
	)

	res, err := p.Decode(context.Background(), []byte{1})
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrDecodeExhausted)
	assert.Contains(t, err.Error(), "first failure")
	assert.False(t, res.Succeeded)
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestPipeline_ContextCancelled(t *testing.T) {
	var calls []string
	p := NewPipeline(log.Discard(), fakeStrategy{name: "a", payload: "x", calls: &calls})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Decode(ctx, []byte{1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, calls)
}

func TestPipeline_DefaultOrder(t *testing.T) {
	p := NewPipeline(log.Discard())
	assert.Equal(t, []string{"bitmap", "raw", "raw-masked"}, p.Strategies())
}

func TestPipeline_DecodesGeneratedPNG(t *testing.T) {
	p := NewPipeline(log.Discard())
	data := decodetest.PNG(t, "https://weixin.qq.com/r/abc123", 300)

	res, err := p.Decode(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "https://weixin.qq.com/r/abc123", res.Payload)
	assert.Equal(t, "bitmap", res.Strategy)
}

func TestPipeline_DecodesJPEG(t *testing.T) {
	p := NewPipeline(log.Discard())
	data := decodetest.JPEG(t, "hello from jpeg", 300)

	res, err := p.Decode(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "hello from jpeg", res.Payload)
}

func TestPipeline_DecodesTransparentPNG(t *testing.T) {
	p := NewPipeline(log.Discard())
	data := decodetest.TransparentPNG(t, "transparent", 300)

	res, err := p.Decode(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "transparent", res.Payload)
}

func TestPipeline_NoCodeExhausted(t *testing.T) {
	p := NewPipeline(log.Discard())

	_, err := p.Decode(context.Background(), decodetest.BlankPNG(t, 120))
	assert.ErrorIs(t, err, utils.ErrDecodeExhausted)
}

func TestPipeline_GarbageBytesExhausted(t *testing.T) {
	p := NewPipeline(log.Discard())

	_, err := p.Decode(context.Background(), []byte("definitely not an image"))
	assert.ErrorIs(t, err, utils.ErrDecodeExhausted)
}

func TestRawStrategy_GoqrDecodesCleanCode(t *testing.T) {
	s := NewRawStrategy(GoqrDecoder{})
	payload, err := s.TryDecode(NewFrame(decodetest.PNG(t, "raw path", 300)))
	require.NoError(t, err)
	assert.Equal(t, "raw path", payload)
}

// centerWhiteDecoder only succeeds when the center pixel is white, which
// mimics a code that is unreadable until its logo is painted out.
type centerWhiteDecoder struct {
	calls int
}

func (d *centerWhiteDecoder) DecodeRaw(pix []byte, width, height int) (string, error) {
	d.calls++
	if len(pix) != width*height*4 {
		return "", errors.New("buffer size mismatch")
	}
	i := ((height/2)*width + width/2) * 4
	if pix[i] == 255 && pix[i+1] == 255 && pix[i+2] == 255 && pix[i+3] == 255 {
		return "masked payload", nil
	}
	return "", errNoSymbol
}

func TestMaskedStrategy_RecoversObscuredCenter(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 80))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	// red "logo" in the middle
	for y := 35; y < 45; y++ {
		for x := 45; x < 55; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	data := decodetest.EncodePNG(t, img)

	dec := &centerWhiteDecoder{}
	var calls []string
	p := NewPipeline(log.Discard(),
		fakeStrategy{name: "bitmap", err: errors.New("logo in the way"), calls: &calls},
		NewRawStrategy(dec),
		NewMaskedStrategy(dec),
	)

	res, err := p.Decode(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "masked payload", res.Payload)
	assert.Equal(t, "raw-masked", res.Strategy)
	assert.Equal(t, 2, dec.calls)
}

// logoQR returns an H level code with a solid block over its center, sized
// to sit inside the area MaskCenter paints white.
func logoQR(t *testing.T, text string) []byte {
	t.Helper()
	gray := decodetest.ImageLevel(t, text, 300, "H")
	img := image.NewRGBA(gray.Bounds())
	draw.Draw(img, img.Bounds(), gray, image.Point{}, draw.Src)

	b := img.Bounds()
	side := int(0.12 * float64(min(b.Dx(), b.Dy())))
	x0, y0 := (b.Dx()-side)/2, (b.Dy()-side)/2
	draw.Draw(img, image.Rect(x0, y0, x0+side, y0+side),
		image.NewUniform(color.RGBA{R: 200, G: 30, B: 30, A: 255}), image.Point{}, draw.Src)
	return decodetest.EncodePNG(t, img)
}

func TestMaskedStrategy_GoqrReadsCodeUnderLogo(t *testing.T) {
	data := logoQR(t, "https://example.com/logo")

	payload, err := NewMaskedStrategy(GoqrDecoder{}).TryDecode(NewFrame(data))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/logo", payload)
}

func TestPipeline_RawThenMaskedWithGoqr(t *testing.T) {
	data := logoQR(t, "https://example.com/logo")
	p := NewPipeline(log.Discard(), NewRawStrategy(GoqrDecoder{}), NewMaskedStrategy(GoqrDecoder{}))

	res, err := p.Decode(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/logo", res.Payload)
	assert.Contains(t, []string{"raw", "raw-masked"}, res.Strategy)
}

func TestPipeline_RejectsOversizedDimensions(t *testing.T) {
	var calls []string
	p := NewPipeline(log.Discard(), fakeStrategy{name: "a", payload: "x", calls: &calls})
	data := decodetest.PNGDeclaring(t, 12000, 12000)

	start := time.Now()
	_, err := p.Decode(context.Background(), data)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrResponseTooLarge)
	assert.NotErrorIs(t, err, utils.ErrDecodeExhausted)
	assert.Contains(t, err.Error(), "12000x12000")
	assert.Empty(t, calls, "no strategy may see the image")
	assert.Less(t, time.Since(start), time.Second)
}

func TestPipeline_WithMaxPixels(t *testing.T) {
	data := decodetest.PNG(t, "small enough", 200)

	_, err := NewPipeline(log.Discard()).WithMaxPixels(100*100).Decode(context.Background(), data)
	assert.ErrorIs(t, err, utils.ErrResponseTooLarge)

	res, err := NewPipeline(log.Discard()).WithMaxPixels(0).Decode(context.Background(), data)
	require.NoError(t, err, "zero keeps the default ceiling")
	assert.Equal(t, "small enough", res.Payload)
}

func TestFrame_RGBAEnforcesMaxPixels(t *testing.T) {
	f := &Frame{Data: decodetest.PNGDeclaring(t, 9000, 9000), MaxPixels: 1_000_000}

	img, err := f.RGBA()
	assert.Nil(t, img)
	assert.ErrorIs(t, err, utils.ErrResponseTooLarge)
}

func TestCheckDimensions(t *testing.T) {
	assert.NoError(t, CheckDimensions(decodetest.PNG(t, "ok", 200), 0))
	assert.NoError(t, CheckDimensions([]byte("not an image"), 10), "left to the full decode")
	assert.ErrorIs(t, CheckDimensions(decodetest.PNGDeclaring(t, 8000, 6000), 0), utils.ErrResponseTooLarge)
	assert.NoError(t, CheckDimensions(decodetest.PNGDeclaring(t, 8000, 5000), 0), "exactly at the default ceiling")
}

func TestMaskCenter(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255 // opaque black
	}

	masked := MaskCenter(img, CenterMaskFraction)

	// side = floor(0.15 * 100) = 15, centered at (100, 50)
	x0, y0 := (200-15)/2, (100-15)/2
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, masked.RGBAAt(x0, y0))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, masked.RGBAAt(x0+14, y0+14))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, masked.RGBAAt(x0-1, y0))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, masked.RGBAAt(x0+15, y0+15))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(100, 50), "input must not change")
}

func TestToRGBA_FlattensAndNormalizesOrigin(t *testing.T) {
	src := image.NewNRGBA(image.Rect(10, 10, 14, 12))
	src.SetNRGBA(10, 10, color.NRGBA{A: 0})
	src.SetNRGBA(11, 10, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	out := ToRGBA(src)
	assert.Equal(t, image.Rect(0, 0, 4, 2), out.Bounds())
	assert.Equal(t, 16, out.Stride)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{10, 20, 30, 255}, out.RGBAAt(1, 0))
	for i := 3; i < len(out.Pix); i += 4 {
		assert.Equal(t, uint8(255), out.Pix[i])
	}
}

func TestDecodeImage_Errors(t *testing.T) {
	_, _, err := DecodeImage(nil, 0)
	assert.ErrorIs(t, err, utils.ErrEmptyImage)

	_, _, err = DecodeImage([]byte("<svg></svg>"), 0)
	assert.ErrorIs(t, err, utils.ErrParsing)
}
