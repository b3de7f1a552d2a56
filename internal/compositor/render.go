package compositor

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"math"
	"strings"

	"github.com/anthonynsimon/bild/blur"
	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"github.com/ironsheep/room-overlay-mcp/internal/geometry"
)

// Format is an export image format.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// JPEGQuality is the export quality for lossy output.
const JPEGQuality = 90

const (
	guideStrokeWidth = 2.0
	guideHandleSize  = 6.0
)

// ParseFormat accepts "png", "jpeg" or "jpg" in any case. Empty means PNG.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// MimeType returns the MIME type of f.
func (f Format) MimeType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Render rasterizes the scene at canvas resolution.
func (c *Compositor) Render() (*image.NRGBA, error) {
	rect := image.Rect(0, 0, c.opts.Width, c.opts.Height)
	canvas := image.NewNRGBA(rect)
	draw.Draw(canvas, rect, image.NewUniform(c.opts.Fill), image.Point{}, draw.Src)

	for _, id := range c.order {
		e := c.arena[id]
		var err error
		switch e.kind {
		case KindBackground:
			err = c.renderBackground(canvas, e.background)
		case KindOverlay:
			err = c.renderOverlay(canvas, e.overlay)
		case KindMaskGuide:
			c.renderPolyline(canvas, e.points)
		case KindCalibrationGuide:
			c.renderPolyline(canvas, []geometry.Point{e.line.P1, e.line.P2})
		}
		if err != nil {
			return nil, err
		}
	}
	return canvas, nil
}

// Export encodes the rendered scene.
func (c *Compositor) Export(w io.Writer, format Format) error {
	img, err := c.Render()
	if err != nil {
		return err
	}
	switch format {
	case FormatJPEG:
		err = imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality))
	case FormatPNG, "":
		err = imaging.Encode(w, img, imaging.PNG)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return nil
}

func (c *Compositor) renderBackground(canvas *image.NRGBA, bg *Background) error {
	img, err := c.images.Load(bg.Ref)
	if err != nil {
		return fmt.Errorf("render background: %w", err)
	}
	w, h := bg.RenderedSize()
	if w <= 0 || h <= 0 {
		return nil
	}
	fitted := imaging.Resize(img, w, h, imaging.Lanczos)
	at := image.Pt(int(math.Round(bg.Offset.X)), int(math.Round(bg.Offset.Y)))
	draw.Draw(canvas, fitted.Bounds().Add(at), fitted, image.Point{}, draw.Over)
	return nil
}

// renderOverlay draws the drop shadow and then the overlay, both limited
// by the clip polygon and faded by the opacity.
func (c *Compositor) renderOverlay(canvas *image.NRGBA, o *Overlay) error {
	src, err := c.images.Load(o.SourceRef)
	if err != nil {
		return fmt.Errorf("render overlay %s: %w", o.ProductID, err)
	}
	rect := canvas.Bounds()

	// Place the image on a transparent layer the size of the canvas.
	layer := image.NewNRGBA(rect)
	m := o.Transform.matrix()
	sb := src.Bounds()
	// Shift so the source's Min maps to the transform origin.
	m[2] -= m[0]*float64(sb.Min.X) + m[1]*float64(sb.Min.Y)
	m[5] -= m[3]*float64(sb.Min.X) + m[4]*float64(sb.Min.Y)
	xdraw.CatmullRom.Transform(layer, m, src, sb, xdraw.Over, nil)

	mask := c.overlayMask(o)
	visible := image.NewNRGBA(rect)
	draw.DrawMask(visible, rect, layer, image.Point{}, mask, image.Point{}, draw.Over)

	if shadow := c.shadowOf(visible); shadow != nil {
		draw.Draw(canvas, rect, shadow, image.Point{}, draw.Over)
	}
	draw.Draw(canvas, rect, visible, image.Point{}, draw.Over)
	return nil
}

// overlayMask returns the per-pixel visibility of the overlay: clip
// coverage (non-zero winding) times opacity.
func (c *Compositor) overlayMask(o *Overlay) image.Image {
	alpha := uint8(math.Round(o.Opacity / 100 * 255))
	if o.Clip == nil {
		return image.NewUniform(color.Alpha{A: alpha})
	}

	w, h := c.opts.Width, c.opts.Height
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	r := vector.NewRasterizer(w, h)
	pts := o.Clip.Points
	r.MoveTo(float32(pts[0].X), float32(pts[0].Y))
	for _, p := range pts[1:] {
		r.LineTo(float32(p.X), float32(p.Y))
	}
	r.ClosePath()
	r.Draw(mask, mask.Bounds(), image.NewUniform(color.Alpha{A: alpha}), image.Point{})
	return mask
}

// shadowOf builds the blurred, offset drop shadow of a rendered overlay
// layer. It returns nil when shadows are disabled.
func (c *Compositor) shadowOf(layer *image.NRGBA) image.Image {
	s := c.opts.Shadow
	if s.Alpha <= 0 {
		return nil
	}
	rect := layer.Bounds()
	sr, sg, sb, _ := s.Color.RGBA()
	base := color.NRGBA{R: uint8(sr >> 8), G: uint8(sg >> 8), B: uint8(sb >> 8)}

	dx, dy := int(math.Round(s.OffsetX)), int(math.Round(s.OffsetY))
	shadow := image.NewNRGBA(rect)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			a := layer.NRGBAAt(x, y).A
			if a == 0 {
				continue
			}
			tx, ty := x+dx, y+dy
			if tx < rect.Min.X || ty < rect.Min.Y || tx >= rect.Max.X || ty >= rect.Max.Y {
				continue
			}
			px := base
			px.A = uint8(float64(a) * s.Alpha)
			shadow.SetNRGBA(tx, ty, px)
		}
	}
	if s.BlurRadius <= 0 {
		return shadow
	}
	return blur.Gaussian(shadow, s.BlurRadius)
}

// renderPolyline strokes consecutive points and marks each vertex with a
// square handle. Segments and handles are rasterized in separate passes
// because overlapping paths of opposite orientation would cancel out.
func (c *Compositor) renderPolyline(canvas *image.NRGBA, pts []geometry.Point) {
	w, h := c.opts.Width, c.opts.Height
	src := image.NewUniform(c.opts.GuideColor)

	r := vector.NewRasterizer(w, h)
	for i := 0; i+1 < len(pts); i++ {
		strokeSegment(r, pts[i], pts[i+1], guideStrokeWidth)
	}
	r.Draw(canvas, canvas.Bounds(), src, image.Point{})

	r.Reset(w, h)
	half := float32(guideHandleSize / 2)
	for _, p := range pts {
		x, y := float32(p.X), float32(p.Y)
		r.MoveTo(x-half, y-half)
		r.LineTo(x+half, y-half)
		r.LineTo(x+half, y+half)
		r.LineTo(x-half, y+half)
		r.ClosePath()
	}
	r.Draw(canvas, canvas.Bounds(), src, image.Point{})
}

// strokeSegment adds a segment of the given width to r as a filled quad.
func strokeSegment(r *vector.Rasterizer, a, b geometry.Point, width float64) {
	length := geometry.Distance(a, b)
	if length == 0 {
		return
	}
	nx := -(b.Y - a.Y) / length * width / 2
	ny := (b.X - a.X) / length * width / 2
	r.MoveTo(float32(a.X+nx), float32(a.Y+ny))
	r.LineTo(float32(b.X+nx), float32(b.Y+ny))
	r.LineTo(float32(b.X-nx), float32(b.Y-ny))
	r.LineTo(float32(a.X-nx), float32(a.Y-ny))
	r.ClosePath()
}
