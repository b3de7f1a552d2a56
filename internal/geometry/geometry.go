// Package geometry provides the planar primitives used by calibration,
// overlay placement and polygon masking.
//
// Coordinates follow the canvas convention: (0,0) is the top-left corner,
// X increases rightward and Y increases downward. All values are float64
// canvas pixels.
package geometry

import (
	"fmt"
	"math"
)

// Point represents a 2D canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Add returns p translated by q.
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

// Sub returns the vector from q to p.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Eq reports whether p and q are the same point. Comparison is exact: a
// reference line is degenerate only when both endpoints coincide.
func (p Point) Eq(q Point) bool {
	return p.X == q.X && p.Y == q.Y
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Point) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

func (p Point) String() string {
	return fmt.Sprintf("(%g,%g)", p.X, p.Y)
}

// Distance returns the Euclidean distance between p and q.
func Distance(p, q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// Line is a two-point segment, used as the calibration reference line.
type Line struct {
	P1 Point `json:"p1"`
	P2 Point `json:"p2"`
}

// Length returns the Euclidean length of the segment.
func (l Line) Length() float64 {
	return Distance(l.P1, l.P2)
}

// IsDegenerate reports whether both endpoints coincide.
func (l Line) IsDegenerate() bool {
	return l.P1.Eq(l.P2)
}

// AngleDegrees returns the direction of the segment from P1 to P2
// (0 = horizontal right, 90 = down).
func (l Line) AngleDegrees() float64 {
	return math.Atan2(l.P2.Y-l.P1.Y, l.P2.X-l.P1.X) * 180 / math.Pi
}

// Rect is an axis-aligned bounding box. Min is inclusive, Max exclusive.
type Rect struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// Dx returns the width of the rectangle.
func (r Rect) Dx() float64 { return r.Max.X - r.Min.X }

// Dy returns the height of the rectangle.
func (r Rect) Dy() float64 { return r.Max.Y - r.Min.Y }

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Dx() <= 0 || r.Dy() <= 0
}

// Bounds returns the bounding box of pts. It returns the zero Rect for an
// empty slice.
func Bounds(pts []Point) Rect {
	if len(pts) == 0 {
		return Rect{}
	}
	r := Rect{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		r.Min.X = math.Min(r.Min.X, p.X)
		r.Min.Y = math.Min(r.Min.Y, p.Y)
		r.Max.X = math.Max(r.Max.X, p.X)
		r.Max.Y = math.Max(r.Max.Y, p.Y)
	}
	return r
}
