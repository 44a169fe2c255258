package decode

import (
	"errors"
	"image"

	"github.com/liyue201/goqr"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// CenterMaskFraction is the side of the masked center square relative to
// the shorter image edge. Covers the typical logo overlay on branded codes.
const CenterMaskFraction = 0.15

var errNoSymbol = errors.New("no QR symbol found")

// Strategy is one attempt at turning an image into a QR payload. A strategy
// reports failure with an error; an empty payload also counts as failure.
type Strategy interface {
	Name() string
	TryDecode(f *Frame) (string, error)
}

// BitmapStrategy runs the ZXing QR reader over the whole image.
type BitmapStrategy struct{}

func (BitmapStrategy) Name() string { return "bitmap" }

func (BitmapStrategy) TryDecode(f *Frame) (string, error) {
	img, err := f.RGBA()
	if err != nil {
		return "", err
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", err
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	// QRCodeReader keeps decoder state; one per call keeps the strategy
	// safe for concurrent use.
	result, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", err
	}
	return result.GetText(), nil
}

// RawDecoder decodes a tightly packed RGBA buffer (4 bytes per pixel,
// row-major, no padding).
type RawDecoder interface {
	DecodeRaw(pix []byte, width, height int) (string, error)
}

// GoqrDecoder is the RawDecoder backed by goqr.
type GoqrDecoder struct{}

func (GoqrDecoder) DecodeRaw(pix []byte, width, height int) (string, error) {
	img := &image.RGBA{Pix: pix, Stride: 4 * width, Rect: image.Rect(0, 0, width, height)}
	codes, err := goqr.Recognize(img)
	if err != nil {
		return "", err
	}
	for _, code := range codes {
		if len(code.Payload) > 0 {
			return string(code.Payload), nil
		}
	}
	return "", errNoSymbol
}

// RawStrategy hands the raw RGBA buffer to a RawDecoder, optionally after
// painting out the center of the image.
type RawStrategy struct {
	Decoder      RawDecoder
	MaskFraction float64 // 0 disables masking
}

// NewRawStrategy returns the unmasked raw-buffer strategy.
func NewRawStrategy(d RawDecoder) *RawStrategy {
	return &RawStrategy{Decoder: d}
}

// NewMaskedStrategy returns the raw-buffer strategy that whites out the
// image center first.
func NewMaskedStrategy(d RawDecoder) *RawStrategy {
	return &RawStrategy{Decoder: d, MaskFraction: CenterMaskFraction}
}

func (s *RawStrategy) Name() string {
	if s.MaskFraction > 0 {
		return "raw-masked"
	}
	return "raw"
}

func (s *RawStrategy) TryDecode(f *Frame) (string, error) {
	img, err := f.RGBA()
	if err != nil {
		return "", err
	}
	if s.MaskFraction > 0 {
		img = MaskCenter(img, s.MaskFraction)
	}
	b := img.Bounds()
	return s.Decoder.DecodeRaw(img.Pix, b.Dx(), b.Dy())
}

// DefaultStrategies returns the production decode chain in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		BitmapStrategy{},
		NewRawStrategy(GoqrDecoder{}),
		NewMaskedStrategy(GoqrDecoder{}),
	}
}
