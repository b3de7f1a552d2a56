package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
)

// Encoded is a base64 PNG ready to be returned to a client.
type Encoded struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// EncodePNG encodes img as base64 PNG.
func EncodePNG(img image.Image) (*Encoded, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	b := img.Bounds()
	return &Encoded{
		Width:       b.Dx(),
		Height:      b.Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}

// Zoom crops r out of img and scales it by scale. A scale of 0 means 1.
//
// It is used to inspect a region of the rendered scene closely, for example
// before placing mask points along an edge.
func Zoom(img image.Image, r image.Rectangle, scale float64) (*image.NRGBA, error) {
	bounds := img.Bounds()
	if !r.In(bounds) {
		return nil, fmt.Errorf("zoom region %v outside image bounds %v", r, bounds)
	}
	if r.Empty() {
		return nil, fmt.Errorf("invalid zoom region %v: x1 must be < x2, y1 must be < y2", r)
	}
	if scale == 0 {
		scale = 1
	}
	if scale < 0 || scale > 16 {
		return nil, fmt.Errorf("zoom scale %v not in (0,16]", scale)
	}

	cropped := imaging.Crop(img, r)
	if scale != 1 {
		w := int(float64(cropped.Bounds().Dx()) * scale)
		h := int(float64(cropped.Bounds().Dy()) * scale)
		if w < 1 || h < 1 {
			return nil, fmt.Errorf("zoom scale %v leaves an empty image", scale)
		}
		cropped = imaging.Resize(cropped, w, h, imaging.Lanczos)
	}
	return cropped, nil
}

// NamedRegion resolves a named part of a w x h image: top-left, top-right,
// bottom-left, bottom-right, top-half, bottom-half, left-half, right-half or
// center (the middle 50%).
func NamedRegion(name string, w, h int) (image.Rectangle, error) {
	midX, midY := w/2, h/2
	switch name {
	case "top-left":
		return image.Rect(0, 0, midX, midY), nil
	case "top-right":
		return image.Rect(midX, 0, w, midY), nil
	case "bottom-left":
		return image.Rect(0, midY, midX, h), nil
	case "bottom-right":
		return image.Rect(midX, midY, w, h), nil
	case "top-half":
		return image.Rect(0, 0, w, midY), nil
	case "bottom-half":
		return image.Rect(0, midY, w, h), nil
	case "left-half":
		return image.Rect(0, 0, midX, h), nil
	case "right-half":
		return image.Rect(midX, 0, w, h), nil
	case "center":
		return image.Rect(w/4, h/4, w-w/4, h-h/4), nil
	default:
		return image.Rectangle{}, fmt.Errorf("unknown region: %s", name)
	}
}
