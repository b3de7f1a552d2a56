package imaging

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
)

// HSL is a colour in HSL space.
type HSL struct {
	H int `json:"h"` // Hue: 0-360 degrees
	S int `json:"s"` // Saturation: 0-100 percent
	L int `json:"l"` // Lightness: 0-100 percent
}

// Swatch describes one colour of a photo.
//
// Hex excludes alpha. Percentage is only set by Palette.
type Swatch struct {
	Hex        string  `json:"hex"`
	R          uint8   `json:"r"`
	G          uint8   `json:"g"`
	B          uint8   `json:"b"`
	A          uint8   `json:"a"`
	HSL        HSL     `json:"hsl"`
	Percentage float64 `json:"percentage,omitempty"`
}

func swatchOf(c color.Color) Swatch {
	nc := color.NRGBAModel.Convert(c).(color.NRGBA)
	cf := colorful.Color{R: float64(nc.R) / 255, G: float64(nc.G) / 255, B: float64(nc.B) / 255}
	h, s, l := cf.Hsl()
	if math.IsNaN(h) {
		h = 0
	}
	return Swatch{
		Hex: fmt.Sprintf("#%02X%02X%02X", nc.R, nc.G, nc.B),
		R:   nc.R,
		G:   nc.G,
		B:   nc.B,
		A:   nc.A,
		HSL: HSL{H: int(h), S: int(s * 100), L: int(l * 100)},
	}
}

// SampleColor returns the colour at (x, y).
//
// Coordinates are 0-based with origin at top-left. Points outside the image
// are an error.
func SampleColor(img image.Image, x, y int) (Swatch, error) {
	if !image.Pt(x, y).In(img.Bounds()) {
		return Swatch{}, fmt.Errorf("coordinates (%d,%d) outside image bounds", x, y)
	}
	return swatchOf(img.At(x, y)), nil
}

// Palette returns up to count dominant colours of region, most common first.
// An empty region analyzes the whole image. Fully transparent pixels are
// skipped.
//
// # Quantization
//
// Components are quantized to multiples of 16 before counting, so colours
// within 16 units per component are grouped. Buckets whose CIE Lab distance
// to a more common bucket is below mergeDistance are folded into it, which
// keeps soft gradients (wall lighting, fabric folds) from filling the list
// with near-duplicates.
func Palette(img image.Image, count int, region image.Rectangle) ([]Swatch, error) {
	if count <= 0 {
		return nil, fmt.Errorf("palette size must be positive, got %d", count)
	}
	bounds := img.Bounds()
	if !region.Empty() {
		if !region.In(bounds) {
			return nil, fmt.Errorf("region %v outside image bounds %v", region, bounds)
		}
		bounds = region
	}

	type bucket struct {
		c     color.NRGBA
		count int
	}
	counts := make(map[color.NRGBA]int)
	total := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			nc := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if nc.A == 0 {
				continue
			}
			key := color.NRGBA{R: nc.R / 16 * 16, G: nc.G / 16 * 16, B: nc.B / 16 * 16, A: 255}
			counts[key]++
			total++
		}
	}
	if total == 0 {
		return nil, nil
	}

	buckets := make([]bucket, 0, len(counts))
	for c, n := range counts {
		buckets = append(buckets, bucket{c: c, count: n})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].count != buckets[j].count {
			return buckets[i].count > buckets[j].count
		}
		return hexKey(buckets[i].c) < hexKey(buckets[j].c)
	})

	var kept []bucket
	for _, b := range buckets {
		merged := false
		for i := range kept {
			if labDistance(kept[i].c, b.c) < mergeDistance {
				kept[i].count += b.count
				merged = true
				break
			}
		}
		if !merged {
			kept = append(kept, b)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].count > kept[j].count })

	if len(kept) > count {
		kept = kept[:count]
	}
	out := make([]Swatch, len(kept))
	for i, b := range kept {
		out[i] = swatchOf(b.c)
		out[i].Percentage = float64(b.count) / float64(total) * 100
	}
	return out, nil
}

const mergeDistance = 0.08

func labDistance(a, b color.NRGBA) float64 {
	ca, _ := colorful.MakeColor(a)
	cb, _ := colorful.MakeColor(b)
	return ca.DistanceLab(cb)
}

func hexKey(c color.NRGBA) uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}
