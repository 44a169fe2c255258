package decode

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"sync"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"qr-spider/pkg/utils"
)

// DefaultMaxPixels is the width*height ceiling applied when none is
// configured. A 40 megapixel RGBA buffer is 160 MiB.
const DefaultMaxPixels int64 = 40_000_000

// Frame wraps the downloaded bytes of one image and lazily decodes them.
// Strategies share a Frame so the raster is decoded at most once.
type Frame struct {
	Data      []byte
	MaxPixels int64 // Ceiling on declared width*height, <= 0 means DefaultMaxPixels

	once sync.Once
	rgba *image.RGBA
	err  error
}

// NewFrame returns a frame over data. The slice is not copied.
func NewFrame(data []byte) *Frame {
	return &Frame{Data: data}
}

// RGBA returns the image as a tightly packed 8-bit sRGB buffer with every
// pixel fully opaque. Transparent regions are flattened onto white.
func (f *Frame) RGBA() (*image.RGBA, error) {
	f.once.Do(func() {
		var img image.Image
		img, _, f.err = DecodeImage(f.Data, f.MaxPixels)
		if f.err == nil {
			f.rgba = ToRGBA(img)
		}
	})
	return f.rgba, f.err
}

// CheckDimensions reads only the image header and fails with
// utils.ErrResponseTooLarge when width*height exceeds maxPixels (<= 0 means
// DefaultMaxPixels). Headers that cannot be parsed pass; the full decode
// reports them.
func CheckDimensions(data []byte, maxPixels int64) error {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
		return fmt.Errorf("%w: %s image is %dx%d, over the %d pixel limit",
			utils.ErrResponseTooLarge, format, cfg.Width, cfg.Height, maxPixels)
	}
	return nil
}

// DecodeImage decodes any registered raster format after checking the
// declared dimensions against maxPixels.
func DecodeImage(data []byte, maxPixels int64) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", utils.ErrEmptyImage
	}
	if err := CheckDimensions(data, maxPixels); err != nil {
		return nil, "", err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: image decode: %v", utils.ErrParsing, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, format, fmt.Errorf("%w: image has no pixels", utils.ErrParsing)
	}
	return img, format, nil
}

// ToRGBA renders img into a new RGBA buffer whose origin is (0,0),
// composited over opaque white. The color model conversion performed by
// draw maps paletted, gray, YCbCr and CMYK sources to sRGB.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// MaskCenter returns a copy of img with a centered, opaque white square
// whose side is fraction * min(width, height), rounded down. img is not
// modified.
func MaskCenter(img *image.RGBA, fraction float64) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	copy(out.Pix, img.Pix)

	w, h := b.Dx(), b.Dy()
	side := int(fraction * float64(min(w, h)))
	if side <= 0 {
		return out
	}
	x0 := b.Min.X + (w-side)/2
	y0 := b.Min.Y + (h-side)/2
	square := image.Rect(x0, y0, x0+side, y0+side)
	draw.Draw(out, square, image.NewUniform(color.White), image.Point{}, draw.Src)
	return out
}
