package media

import (
	"image"
	"image/color"
	"image/draw"
	"io"

	"github.com/disintegration/imaging"
)

const (
	// MaxFrameDimension is the largest width or height accepted from a source.
	MaxFrameDimension = 8192

	// MaxFramePixels bounds a single decoded frame (~33MP, ~130MB RGBA).
	MaxFramePixels = 8192 * 4096
)

// ToRGBA returns img as *image.RGBA, copying only when needed. imaging
// returns NRGBA; decoded video frames are opaque so the two layouts hold the
// same bytes and the buffer is reused.
func ToRGBA(img image.Image) *image.RGBA {
	switch src := img.(type) {
	case *image.RGBA:
		return src
	case *image.NRGBA:
		return &image.RGBA{Pix: src.Pix, Stride: src.Stride, Rect: src.Rect}
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Resize scales img to exactly w×h. An image already that size is returned
// unchanged.
func Resize(img *image.RGBA, w, h int) *image.RGBA {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	return ToRGBA(imaging.Resize(img, w, h, imaging.Linear))
}

// ScaledWidth returns the width of a w×h image scaled to height, keeping
// the aspect ratio.
func ScaledWidth(w, h, height int) int {
	if h == 0 {
		return 0
	}
	sw := (w*height + h/2) / h
	if sw < 1 {
		sw = 1
	}
	return sw
}

// Crop returns a copy of the rect region of img, rebased at the origin.
func Crop(img *image.RGBA, rect image.Rectangle) *image.RGBA {
	return ToRGBA(imaging.Crop(img, rect))
}

// Fill returns a w×h image of a single colour.
func Fill(w, h int, c color.Color) *image.RGBA {
	return ToRGBA(imaging.New(w, h, c))
}

// EncodeJPEG writes img as a JPEG of the given quality (1-100).
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
}
