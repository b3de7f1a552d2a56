package session

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/ironsheep/room-overlay-mcp/internal/geometry"
	"github.com/ironsheep/room-overlay-mcp/internal/imaging"
	"github.com/ironsheep/room-overlay-mcp/internal/overlay"
)

// Measurement is the distance between two canvas points. The centimetre
// fields are only set once the session is calibrated.
type Measurement struct {
	From       geometry.Point `json:"from"`
	To         geometry.Point `json:"to"`
	DeltaX     float64        `json:"dx"`
	DeltaY     float64        `json:"dy"`
	Pixels     float64        `json:"distance_px"`
	AngleDeg   float64        `json:"angle_degrees"`
	Centimeter float64        `json:"distance_cm,omitempty"`
	Calibrated bool           `json:"calibrated"`
	Estimated  bool           `json:"estimated,omitempty"`
}

// Measure reports the distance between a and b in canvas pixels and, when
// calibrated, in centimetres.
func (s *Session) Measure(a, b geometry.Point) (Measurement, error) {
	if !a.IsFinite() || !b.IsFinite() {
		return Measurement{}, errors.New("measure: points must be finite")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	line := geometry.Line{P1: a, P2: b}
	st := s.calib.State()
	m := Measurement{
		From:       a,
		To:         b,
		DeltaX:     b.X - a.X,
		DeltaY:     b.Y - a.Y,
		Pixels:     line.Length(),
		AngleDeg:   line.AngleDegrees(),
		Calibrated: st.IsCalibrated(),
		Estimated:  st.Estimated,
	}
	if m.Calibrated {
		m.Centimeter = st.PixelsToCm(m.Pixels)
	}
	return m, nil
}

// SampleColor returns the colour of the rendered scene at canvas point p.
func (s *Session) SampleColor(p geometry.Point) (imaging.Swatch, error) {
	img, err := s.render()
	if err != nil {
		return imaging.Swatch{}, err
	}
	return imaging.SampleColor(img, int(math.Floor(p.X)), int(math.Floor(p.Y)))
}

// Palette returns the dominant colours of the room photo area of the
// canvas, or of region when it is not empty. It helps choose a product
// colour that suits the room.
func (s *Session) Palette(count int, region image.Rectangle) ([]imaging.Swatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePhoto(); err != nil {
		return nil, err
	}
	img, err := s.scene.Render()
	if err != nil {
		return nil, err
	}
	if region.Empty() {
		if bg, ok := s.scene.Background(); ok {
			w, h := bg.RenderedSize()
			region = image.Rect(0, 0, w, h).Add(image.Pt(int(bg.Offset.X), int(bg.Offset.Y))).Intersect(img.Bounds())
		}
	}
	return imaging.Palette(img, count, region)
}

// Zoom renders the scene and returns region scaled by scale.
func (s *Session) Zoom(region image.Rectangle, scale float64) (*image.NRGBA, error) {
	img, err := s.render()
	if err != nil {
		return nil, err
	}
	return imaging.Zoom(img, region, scale)
}

// Grid renders the scene with a grid line every cmPerLine centimetres,
// labelled in centimetres. It requires calibration.
func (s *Session) Grid(cmPerLine float64) (*image.NRGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePhoto(); err != nil {
		return nil, err
	}
	st := s.calib.State()
	if !st.IsCalibrated() {
		return nil, overlay.ErrNotCalibrated
	}
	if math.IsNaN(cmPerLine) || cmPerLine <= 0 {
		return nil, fmt.Errorf("grid spacing must be positive, got %v cm", cmPerLine)
	}
	img, err := s.scene.Render()
	if err != nil {
		return nil, err
	}
	return imaging.ScaleGrid(img, imaging.GridOptions{
		SpacingPx:    st.CmToPixels(cmPerLine),
		UnitsPerLine: cmPerLine,
		Color:        s.opts.Canvas.GuideColor,
	})
}

func (s *Session) render() (*image.NRGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePhoto(); err != nil {
		return nil, err
	}
	return s.scene.Render()
}
