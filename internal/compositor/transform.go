package compositor

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64"

	"github.com/ironsheep/room-overlay-mcp/internal/geometry"
)

// matrix maps overlay image pixels to canvas pixels: scale, then rotate
// around the image origin, then translate.
func (t Transform) matrix() f64.Aff3 {
	rad := t.Angle * math.Pi / 180
	sin, cos := math.Sincos(rad)
	return f64.Aff3{
		t.ScaleX * cos, -t.ScaleY * sin, t.X,
		t.ScaleX * sin, t.ScaleY * cos, t.Y,
	}
}

// apply maps a point in image space to canvas space.
func (t Transform) apply(p geometry.Point) geometry.Point {
	m := t.matrix()
	return geometry.Pt(m[0]*p.X+m[1]*p.Y+m[2], m[3]*p.X+m[4]*p.Y+m[5])
}

// invert maps a canvas point back into image space.
func (t Transform) invert(p geometry.Point) geometry.Point {
	rad := t.Angle * math.Pi / 180
	sin, cos := math.Sincos(rad)
	dx, dy := p.X-t.X, p.Y-t.Y
	// Undo the rotation, then the scale.
	rx := cos*dx + sin*dy
	ry := -sin*dx + cos*dy
	return geometry.Pt(rx/t.ScaleX, ry/t.ScaleY)
}

// Corners returns the overlay's four canvas-space corners, clockwise from
// the top-left.
func (o Overlay) Corners() []geometry.Point {
	w, h := float64(o.NativeSize.Width), float64(o.NativeSize.Height)
	return []geometry.Point{
		o.Transform.apply(geometry.Pt(0, 0)),
		o.Transform.apply(geometry.Pt(w, 0)),
		o.Transform.apply(geometry.Pt(w, h)),
		o.Transform.apply(geometry.Pt(0, h)),
	}
}

// Contains reports whether the canvas point p shows a part of the overlay:
// inside the transformed image rectangle and inside the clip, if any.
func (o Overlay) Contains(p geometry.Point) bool {
	local := o.Transform.invert(p)
	if local.X < 0 || local.Y < 0 || local.X >= float64(o.NativeSize.Width) || local.Y >= float64(o.NativeSize.Height) {
		return false
	}
	if o.Clip != nil {
		return o.Clip.Contains(p)
	}
	return true
}

// HitTest returns the topmost interactive entity under p. The background
// never receives hits.
func (c *Compositor) HitTest(p geometry.Point) (EntityID, bool) {
	for i := len(c.order) - 1; i >= 0; i-- {
		e := c.arena[c.order[i]]
		if !e.interactive || e.overlay == nil {
			continue
		}
		if e.overlay.Contains(p) {
			return e.id, true
		}
	}
	return "", false
}

// MoveActive drags the active overlay by (dx, dy) canvas pixels.
func (c *Compositor) MoveActive(dx, dy float64) error {
	e, err := c.activeEntity()
	if err != nil {
		return err
	}
	t := e.overlay.Transform
	t.X += dx
	t.Y += dy
	if !t.valid() {
		return fmt.Errorf("%w: move by (%v,%v)", ErrInvalidTransform, dx, dy)
	}
	e.overlay.Transform = t
	return nil
}

// ResizeActive sets the active overlay's scale factors. With the aspect
// lock engaged, scaleY is derived from scaleX so the locked ratio holds.
func (c *Compositor) ResizeActive(scaleX, scaleY float64) error {
	e, err := c.activeEntity()
	if err != nil {
		return err
	}
	t := e.overlay.Transform
	t.ScaleX = scaleX
	t.ScaleY = scaleY
	if e.overlay.AspectLocked {
		t.ScaleY = scaleX / e.lockRatio
	}
	if !t.valid() {
		return fmt.Errorf("%w: scale (%v,%v)", ErrInvalidTransform, scaleX, scaleY)
	}
	e.overlay.Transform = t
	return nil
}

// RotateActive rotates the active overlay by deg degrees clockwise. The
// stored angle is normalized to [0, 360).
func (c *Compositor) RotateActive(deg float64) error {
	e, err := c.activeEntity()
	if err != nil {
		return err
	}
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return fmt.Errorf("%w: rotate by %v", ErrInvalidTransform, deg)
	}
	a := math.Mod(e.overlay.Transform.Angle+deg, 360)
	if a < 0 {
		a += 360
	}
	e.overlay.Transform.Angle = a
	return nil
}

// SetAspectLock engages or releases the aspect lock on the active overlay.
// Engaging captures the current ratio.
func (c *Compositor) SetAspectLock(locked bool) error {
	e, err := c.activeEntity()
	if err != nil {
		return err
	}
	e.overlay.AspectLocked = locked
	if locked {
		e.lockRatio = e.overlay.Transform.ScaleX / e.overlay.Transform.ScaleY
	}
	return nil
}
