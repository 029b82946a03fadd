// Package imageutil holds the small decode/crop/encode helpers shared by
// the orchestrator's tile split and the stitcher's canvas compositing.
package imageutil

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Decode reads an image and returns it along with its registered format
// name ("png", "jpeg", ...).
func Decode(r *bytes.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("imageutil: decode: %w", err)
	}
	return img, format, nil
}

// Crop extracts the sub-rectangle x,y,w,h from img. Every concrete decoder
// produced by image/png and image/jpeg implements SubImage, so this never
// falls back to a slow pixel-by-pixel copy in practice.
func Crop(img image.Image, x, y, w, h int) (image.Image, error) {
	rect := image.Rect(x, y, x+w, y+h)
	if si, ok := img.(subImager); ok {
		return si.SubImage(rect), nil
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst, nil
}

// Resize scales src to exactly w x h using a bilinear resampler, the same
// quality tier used elsewhere in this codebase for thumbnail-class work.
func Resize(src image.Image, w, h int) image.Image {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// EncodePNG encodes img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imageutil: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Dimensions returns an image's bounds width/height.
func Dimensions(img image.Image) (int, int) {
	b := img.Bounds()
	return b.Dx(), b.Dy()
}
