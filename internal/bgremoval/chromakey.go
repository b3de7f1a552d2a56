package bgremoval

import (
	"context"
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/room-overlay-mcp/internal/imaging"
)

// DefaultKeyTolerance is the CIE Lab distance under which a pixel counts as
// background. 0.1 is roughly "visibly the same colour".
const DefaultKeyTolerance = 0.1

// ChromaKey removes a uniform studio background locally by making every
// pixel close to Key transparent. Pixels between Tolerance and
// 2*Tolerance fade linearly so edges stay soft.
type ChromaKey struct {
	Store     *imaging.Store
	Key       colorful.Color
	Tolerance float64
}

// NewChromaKey returns a remover keyed on the given hex colour, e.g. "#ffffff".
func NewChromaKey(store *imaging.Store, keyHex string, tolerance float64) (*ChromaKey, error) {
	key, err := colorful.Hex(keyHex)
	if err != nil {
		return nil, failure("invalid key colour %q: %v", keyHex, err)
	}
	if tolerance <= 0 {
		tolerance = DefaultKeyTolerance
	}
	return &ChromaKey{Store: store, Key: key, Tolerance: tolerance}, nil
}

// RemoveBackground keys out the background of imageRef and stores the
// result under a new memory ref.
func (c *ChromaKey) RemoveBackground(ctx context.Context, imageRef string) (string, error) {
	src, err := c.Store.Load(imageRef)
	if err != nil {
		return "", failure("load %s: %v", imageRef, err)
	}

	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		// Large photos take a while; honour cancellation per row.
		if err := ctx.Err(); err != nil {
			return "", failure("%v", err)
		}
		for x := 0; x < b.Dx(); x++ {
			px := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			px.A = c.alpha(px)
			dst.SetNRGBA(x, y, px)
		}
	}
	return c.Store.Put(dst), nil
}

// alpha returns the output alpha for px after keying.
func (c *ChromaKey) alpha(px color.NRGBA) uint8 {
	if px.A == 0 {
		return 0
	}
	col := colorful.Color{R: float64(px.R) / 255, G: float64(px.G) / 255, B: float64(px.B) / 255}
	d := col.DistanceLab(c.Key)
	switch {
	case d <= c.Tolerance:
		return 0
	case d >= 2*c.Tolerance:
		return px.A
	default:
		f := (d - c.Tolerance) / c.Tolerance
		return uint8(float64(px.A) * f)
	}
}
