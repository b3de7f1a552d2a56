// Package mask collects a polygon from successive canvas clicks and applies
// it as the clip of the active overlay, so a product can appear behind a
// piece of furniture or inside a window frame.
//
// The editor walks Idle -> Collecting -> Applied. Reset returns to Idle from
// anywhere and removes the clip. Points are canvas coordinates kept in click
// order; the clip is filled with the non-zero winding rule, so a
// self-intersecting outline still clips deterministically.
package mask

import (
	"errors"
	"fmt"

	"github.com/ironsheep/room-overlay-mcp/internal/compositor"
	"github.com/ironsheep/room-overlay-mcp/internal/geometry"
)

// ErrInvalidTransition is returned when an operation is not valid in the
// current state.
var ErrInvalidTransition = errors.New("invalid mask transition")

// State is the editor position.
type State int

const (
	Idle State = iota
	Collecting
	Applied
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	case Applied:
		return "applied"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Scene is the part of the compositor the editor drives.
type Scene interface {
	ActiveOverlay() (compositor.Overlay, bool)
	ApplyClip(pg *geometry.Polygon) error
	SetMaskGuide(points []geometry.Point)
}

// Editor is the mask state machine for one session. It is not safe for
// concurrent use.
type Editor struct {
	scene  Scene
	state  State
	points []geometry.Point
}

// New returns an Idle editor driving scene.
func New(scene Scene) *Editor {
	return &Editor{scene: scene}
}

// State returns the current state.
func (e *Editor) State() State {
	return e.state
}

// Points returns a copy of the points collected so far.
func (e *Editor) Points() []geometry.Point {
	return append([]geometry.Point(nil), e.points...)
}

// Start begins a new outline. Valid from Idle or Applied; an applied clip
// stays on the overlay until the new outline replaces it.
func (e *Editor) Start() error {
	if e.state == Collecting {
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, e.state)
	}
	e.state = Collecting
	e.points = nil
	e.scene.SetMaskGuide(nil)
	return nil
}

// AddPoint appends p to the outline.
func (e *Editor) AddPoint(p geometry.Point) error {
	if e.state != Collecting {
		return fmt.Errorf("%w: add point while %s", ErrInvalidTransition, e.state)
	}
	if !p.IsFinite() {
		return fmt.Errorf("add point: %v is not finite", p)
	}
	e.points = append(e.points, p)
	e.scene.SetMaskGuide(e.points)
	return nil
}

// Undo removes the most recent point. It reports whether a point was removed.
func (e *Editor) Undo() (bool, error) {
	if e.state != Collecting {
		return false, fmt.Errorf("%w: undo point while %s", ErrInvalidTransition, e.state)
	}
	if len(e.points) == 0 {
		return false, nil
	}
	e.points = e.points[:len(e.points)-1]
	e.scene.SetMaskGuide(e.points)
	return true, nil
}

// Finish closes the outline. With fewer than three points the outline is
// discarded and Finish returns (false, nil) in Idle. Without an active
// overlay it fails with compositor.ErrNoActiveOverlay and keeps collecting.
// Otherwise the polygon becomes the overlay's clip and the editor is Applied.
func (e *Editor) Finish() (bool, error) {
	if e.state != Collecting {
		return false, fmt.Errorf("%w: finish while %s", ErrInvalidTransition, e.state)
	}
	if len(e.points) < geometry.MinPolygonPoints {
		e.clear()
		return false, nil
	}
	if _, ok := e.scene.ActiveOverlay(); !ok {
		return false, compositor.ErrNoActiveOverlay
	}

	if err := e.scene.ApplyClip(geometry.NewClosedPolygon(e.points)); err != nil {
		return false, err
	}
	e.state = Applied
	e.points = nil
	e.scene.SetMaskGuide(nil)
	return true, nil
}

// Reset removes the clip from the active overlay, if any, drops collected
// points and returns to Idle.
func (e *Editor) Reset() {
	if _, ok := e.scene.ActiveOverlay(); ok {
		// Clearing a clip cannot fail while an overlay is attached.
		_ = e.scene.ApplyClip(nil)
	}
	e.clear()
}

// Abandon drops collected points and returns to Idle without touching the
// overlay's clip.
func (e *Editor) Abandon() {
	e.clear()
}

func (e *Editor) clear() {
	e.state = Idle
	e.points = nil
	e.scene.SetMaskGuide(nil)
}
