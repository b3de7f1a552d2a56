package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		p, q Point
		want float64
	}{
		{"vertical", Pt(100, 100), Pt(100, 300), 200},
		{"horizontal left", Pt(50, 0), Pt(0, 0), 50},
		{"3-4-5 triangle", Pt(0, 0), Pt(3, 4), 5},
		{"same point", Pt(7, 7), Pt(7, 7), 0},
		{"fractional", Pt(0.5, 0.5), Pt(1.5, 0.5), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Distance(tt.p, tt.q), 1e-9)
			assert.InDelta(t, tt.want, Distance(tt.q, tt.p), 1e-9, "distance must be symmetric")
		})
	}
}

func TestLine(t *testing.T) {
	l := Line{P1: Pt(0, 0), P2: Pt(0, 10)}
	assert.False(t, l.IsDegenerate())
	assert.Equal(t, 10.0, l.Length())
	assert.InDelta(t, 90, l.AngleDegrees(), 1e-9)

	d := Line{P1: Pt(4, 4), P2: Pt(4, 4)}
	assert.True(t, d.IsDegenerate())
	assert.Zero(t, d.Length())
}

func TestPoint_IsFinite(t *testing.T) {
	assert.True(t, Pt(1, 2).IsFinite())
	assert.False(t, Pt(math.NaN(), 2).IsFinite())
	assert.False(t, Pt(1, math.Inf(-1)).IsFinite())
}

func TestBounds(t *testing.T) {
	r := Bounds([]Point{{10, 5}, {2, 8}, {7, -1}})
	assert.Equal(t, Rect{Min: Pt(2, -1), Max: Pt(10, 8)}, r)
	assert.Equal(t, 8.0, r.Dx())
	assert.Equal(t, 9.0, r.Dy())

	assert.True(t, Bounds(nil).Empty())
}
