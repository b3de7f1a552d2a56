package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
)

// GridOptions configures ScaleGrid.
type GridOptions struct {
	// SpacingPx is the distance between grid lines in canvas pixels.
	SpacingPx float64

	// UnitsPerLine labels each line with k*UnitsPerLine. Zero disables labels.
	UnitsPerLine float64

	// Color strokes the lines. Nil uses semi-transparent red.
	Color color.Color
}

// ScaleGrid draws a measurement grid over a copy of img. Combined with a
// calibration factor it shows real-world centimetres on the room photo.
//
// Line positions are rounded to the nearest pixel; fractional spacing does
// not accumulate drift.
func ScaleGrid(img image.Image, opts GridOptions) (*image.NRGBA, error) {
	if math.IsNaN(opts.SpacingPx) || opts.SpacingPx < 2 {
		return nil, fmt.Errorf("grid spacing must be at least 2 px, got %v", opts.SpacingPx)
	}
	lineColor := opts.Color
	if lineColor == nil {
		lineColor = color.NRGBA{R: 255, A: 128}
	}

	bounds := img.Bounds()
	result := image.NewNRGBA(bounds)
	draw.Draw(result, bounds, img, bounds.Min, draw.Src)
	line := image.NewUniform(lineColor)

	w, h := bounds.Dx(), bounds.Dy()
	for k := 1; ; k++ {
		x := int(math.Round(float64(k) * opts.SpacingPx))
		if x >= w {
			break
		}
		r := image.Rect(x, 0, x+1, h).Add(bounds.Min)
		draw.Draw(result, r, line, image.Point{}, draw.Over)
	}
	for k := 1; ; k++ {
		y := int(math.Round(float64(k) * opts.SpacingPx))
		if y >= h {
			break
		}
		r := image.Rect(0, y, w, y+1).Add(bounds.Min)
		draw.Draw(result, r, line, image.Point{}, draw.Over)
	}

	if opts.UnitsPerLine > 0 {
		fg := color.NRGBA{255, 255, 255, 255}
		bg := color.NRGBA{0, 0, 0, 180}
		for k := 1; ; k++ {
			x := int(math.Round(float64(k) * opts.SpacingPx))
			if x >= w {
				break
			}
			drawLabel(result, bounds.Min.X+x+2, bounds.Min.Y+2, unitLabel(k, opts.UnitsPerLine), fg, bg)
		}
		for k := 1; ; k++ {
			y := int(math.Round(float64(k) * opts.SpacingPx))
			if y >= h {
				break
			}
			drawLabel(result, bounds.Min.X+2, bounds.Min.Y+y+2, unitLabel(k, opts.UnitsPerLine), fg, bg)
		}
	}
	return result, nil
}

func unitLabel(k int, per float64) string {
	return strconv.FormatFloat(float64(k)*per, 'f', -1, 64)
}

// drawLabel draws text with a 3x5 pixel font covering digits, the decimal
// point and the comma. Other runes are skipped.
func drawLabel(img *image.NRGBA, x, y int, text string, fg, bg color.NRGBA) {
	glyphs := map[rune][]string{
		'0': {"111", "101", "101", "101", "111"},
		'1': {"010", "110", "010", "010", "111"},
		'2': {"111", "001", "111", "100", "111"},
		'3': {"111", "001", "111", "001", "111"},
		'4': {"101", "101", "111", "001", "001"},
		'5': {"111", "100", "111", "001", "111"},
		'6': {"111", "100", "111", "101", "111"},
		'7': {"111", "001", "001", "001", "001"},
		'8': {"111", "101", "111", "101", "111"},
		'9': {"111", "101", "111", "001", "111"},
		',': {"000", "000", "000", "010", "010"},
		'.': {"000", "000", "000", "000", "010"},
	}

	bounds := img.Bounds()
	const charWidth = 4
	labelWidth := len(text) * charWidth
	const labelHeight = 7

	for dy := -1; dy < labelHeight; dy++ {
		for dx := -1; dx < labelWidth; dx++ {
			if p := image.Pt(x+dx, y+dy); p.In(bounds) {
				img.SetNRGBA(p.X, p.Y, bg)
			}
		}
	}

	cx := x
	for _, ch := range text {
		glyph, ok := glyphs[ch]
		if !ok {
			cx += charWidth
			continue
		}
		for row, bits := range glyph {
			for col, bit := range bits {
				if bit != '1' {
					continue
				}
				if p := image.Pt(cx+col, y+row); p.In(bounds) {
					img.SetNRGBA(p.X, p.Y, fg)
				}
			}
		}
		cx += charWidth
	}
}
