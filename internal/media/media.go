// Package media normalizes image blobs before they are persisted or shown
// to a vision model: re-encode to JPEG, cap the longest edge, and produce
// small thumbnails for the chat list.
package media

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// maxEdge caps the longest edge of a normalized image. Vision endpoints
// downscale anyway; sending more pixels only costs tokens and bandwidth.
const maxEdge = 1568

// jpegQuality for normalized output.
const jpegQuality = 85

// thumbEdge is the bounding-box edge for Thumbnail.
const thumbEdge = 256

// Normalize decodes data (any format imaging understands), downsizes it
// so neither edge exceeds maxEdge, and re-encodes as JPEG. Images already
// within bounds are still re-encoded, which strips metadata as a side
// effect.
func Normalize(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	img = fit(img, maxEdge)

	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return out.Bytes(), nil
}

// Thumbnail produces a small JPEG preview bounded by thumbEdge.
func Thumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	img = fit(img, thumbEdge)

	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(75)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return out.Bytes(), nil
}

// fit scales img down (never up) so both edges are within edge.
func fit(img image.Image, edge int) image.Image {
	b := img.Bounds()
	if b.Dx() <= edge && b.Dy() <= edge {
		return img
	}
	return imaging.Fit(img, edge, edge, imaging.Lanczos)
}
