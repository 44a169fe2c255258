// Package decodetest generates QR code images for tests.
package decodetest

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Image renders text as a black-on-white QR code of size x size pixels,
// including the standard quiet zone.
func Image(t testing.TB, text string, size int) *image.Gray {
	t.Helper()
	return ImageLevel(t, text, size, "")
}

// ImageLevel is Image with an explicit error correction level ("L", "M",
// "Q" or "H"). An empty level keeps the encoder default.
func ImageLevel(t testing.TB, text string, size int, level string) *image.Gray {
	t.Helper()
	var hints map[gozxing.EncodeHintType]interface{}
	if level != "" {
		hints = map[gozxing.EncodeHintType]interface{}{gozxing.EncodeHintType_ERROR_CORRECTION: level}
	}
	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, size, size, hints)
	if err != nil {
		t.Fatalf("encode QR %q: %v", text, err)
	}

	img := image.NewGray(image.Rect(0, 0, matrix.GetWidth(), matrix.GetHeight()))
	for y := 0; y < matrix.GetHeight(); y++ {
		for x := 0; x < matrix.GetWidth(); x++ {
			if matrix.Get(x, y) {
				img.SetGray(x, y, color.Gray{Y: 0})
			} else {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// PNG returns the QR code for text encoded as PNG.
func PNG(t testing.TB, text string, size int) []byte {
	t.Helper()
	return EncodePNG(t, Image(t, text, size))
}

// JPEG returns the QR code for text encoded as a high quality JPEG.
func JPEG(t testing.TB, text string, size int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Image(t, text, size), &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// TransparentPNG returns the QR code with black modules on a fully
// transparent background.
func TransparentPNG(t testing.TB, text string, size int) []byte {
	t.Helper()
	gray := Image(t, text, size)
	b := gray.Bounds()
	img := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if gray.GrayAt(x, y).Y == 0 {
				img.SetNRGBA(x, y, color.NRGBA{A: 255})
			}
		}
	}
	return EncodePNG(t, img)
}

// BlankPNG returns a plain white PNG without any code in it.
func BlankPNG(t testing.TB, size int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return EncodePNG(t, img)
}

// EncodePNG encodes img as PNG.
func EncodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// PNGDeclaring returns a tiny grayscale PNG whose IHDR claims width x
// height. Only the header is consistent, which is enough for
// image.DecodeConfig; a full decode would allocate the declared raster.
func PNGDeclaring(t testing.TB, width, height uint32) []byte {
	t.Helper()
	data := EncodePNG(t, image.NewGray(image.Rect(0, 0, 1, 1)))
	if string(data[12:16]) != "IHDR" {
		t.Fatalf("unexpected PNG layout")
	}
	binary.BigEndian.PutUint32(data[16:20], width)
	binary.BigEndian.PutUint32(data[20:24], height)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}
