package geometry

// MinPolygonPoints is the fewest vertices that enclose an area.
const MinPolygonPoints = 3

// Polygon is an ordered vertex list. The order is the boundary walk as the
// user clicked it; it is never sorted or reduced to a hull. A closed polygon
// has an implicit edge from the last vertex back to the first.
type Polygon struct {
	Points []Point `json:"points"`
	Closed bool    `json:"closed"`
}

// NewClosedPolygon copies pts into a closed polygon.
func NewClosedPolygon(pts []Point) *Polygon {
	cp := make([]Point, len(pts))
	copy(cp, pts)
	return &Polygon{Points: cp, Closed: true}
}

// Valid reports whether the polygon encloses an area: at least three
// vertices, not all on one line.
func (pg *Polygon) Valid() bool {
	if pg == nil || len(pg.Points) < MinPolygonPoints {
		return false
	}
	a := pg.Points[0]
	for i := 1; i < len(pg.Points); i++ {
		for j := i + 1; j < len(pg.Points); j++ {
			if cross(a, pg.Points[i], pg.Points[j]) != 0 {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy. A nil polygon clones to nil.
func (pg *Polygon) Clone() *Polygon {
	if pg == nil {
		return nil
	}
	cp := make([]Point, len(pg.Points))
	copy(cp, pg.Points)
	return &Polygon{Points: cp, Closed: pg.Closed}
}

// Bounds returns the bounding box of the vertices.
func (pg *Polygon) Bounds() Rect {
	return Bounds(pg.Points)
}

// WindingNumber returns how many times the closed boundary winds around p.
// Points on the boundary may report either side.
func (pg *Polygon) WindingNumber(p Point) int {
	n := len(pg.Points)
	if n < MinPolygonPoints {
		return 0
	}
	wn := 0
	for i := 0; i < n; i++ {
		a := pg.Points[i]
		b := pg.Points[(i+1)%n]
		if a.Y <= p.Y {
			if b.Y > p.Y && cross(a, b, p) > 0 {
				wn++
			}
		} else if b.Y <= p.Y && cross(a, b, p) < 0 {
			wn--
		}
	}
	return wn
}

// Contains reports whether p is inside the polygon under the non-zero
// winding rule. Regions of a self-intersecting polygon that are wound twice
// stay inside, unlike the even-odd rule.
func (pg *Polygon) Contains(p Point) bool {
	return pg.WindingNumber(p) != 0
}

// cross is the z component of (b-a) x (p-a); positive when p lies left of a->b
// in a Y-up frame.
func cross(a, b, p Point) float64 {
	return (b.X-a.X)*(p.Y-a.Y) - (p.X-a.X)*(b.Y-a.Y)
}
