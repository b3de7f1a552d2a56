// Package calibration derives the pixels-per-centimeter factor that maps
// canvas distances to real-world lengths.
//
// The user draws a reference line over an object of known size and then
// types its real length. The engine walks the phases
//
//	Idle -> Drawing -> AwaitingLength -> Calibrated
//
// and can be reset to Idle from any phase. A zero-length line never reaches
// the length prompt, so a calibrated factor is always positive and finite.
//
// Engine is not safe for concurrent use; the session serializes access.
package calibration

import (
	"errors"
	"fmt"
	"math"

	"github.com/ironsheep/room-overlay-mcp/internal/geometry"
)

var (
	// ErrDegenerateLine is returned by EndDraw when both endpoints coincide.
	ErrDegenerateLine = errors.New("calibration line has zero length")

	// ErrInvalidLength is returned by ConfirmLength for non-positive or
	// non-finite lengths.
	ErrInvalidLength = errors.New("calibration length must be a positive finite number of centimeters")

	// ErrInvalidScale is returned by QuickCalibrate for non-positive or
	// non-finite factors.
	ErrInvalidScale = errors.New("pixels per centimeter must be a positive finite number")

	// ErrInvalidTransition is returned when an operation is not valid in the
	// current phase.
	ErrInvalidTransition = errors.New("invalid calibration transition")
)

// Phase is the calibration state machine position.
type Phase int

const (
	Idle Phase = iota
	Drawing
	AwaitingLength
	Calibrated
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Drawing:
		return "drawing"
	case AwaitingLength:
		return "awaiting_length"
	case Calibrated:
		return "calibrated"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText renders the phase by name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is an immutable view of the engine.
type State struct {
	Phase Phase         `json:"phase"`
	Line  geometry.Line `json:"line"`

	// LengthCm is the confirmed real-world length of Line.
	LengthCm float64 `json:"length_cm,omitempty"`

	// PixelsPerCm is set only in the Calibrated phase.
	PixelsPerCm float64 `json:"pixels_per_cm,omitempty"`

	// Estimated marks a factor set by QuickCalibrate without measurement.
	Estimated bool `json:"estimated,omitempty"`
}

// IsCalibrated reports whether a usable factor is available.
func (s State) IsCalibrated() bool {
	return s.Phase == Calibrated && s.PixelsPerCm > 0
}

// CmToPixels converts a real-world length to canvas pixels. It returns 0
// when not calibrated.
func (s State) CmToPixels(cm float64) float64 {
	if !s.IsCalibrated() {
		return 0
	}
	return cm * s.PixelsPerCm
}

// PixelsToCm converts a canvas distance to centimeters. It returns 0 when
// not calibrated.
func (s State) PixelsToCm(px float64) float64 {
	if !s.IsCalibrated() {
		return 0
	}
	return px / s.PixelsPerCm
}

// Engine holds the calibration state for one session.
type Engine struct {
	state State
}

// New returns an engine in the Idle phase.
func New() *Engine {
	return &Engine{}
}

// State returns a copy of the current state.
func (e *Engine) State() State {
	return e.state
}

// BeginDraw starts a reference line at p. Valid only from Idle.
func (e *Engine) BeginDraw(p geometry.Point) error {
	if err := e.expect("begin draw", Idle); err != nil {
		return err
	}
	if !p.IsFinite() {
		return fmt.Errorf("begin draw: point %v is not finite", p)
	}
	e.state = State{Phase: Drawing, Line: geometry.Line{P1: p, P2: p}}
	return nil
}

// UpdateDraw moves the free end of the line to p. Valid only in Drawing.
func (e *Engine) UpdateDraw(p geometry.Point) error {
	if err := e.expect("update draw", Drawing); err != nil {
		return err
	}
	if !p.IsFinite() {
		return fmt.Errorf("update draw: point %v is not finite", p)
	}
	e.state.Line.P2 = p
	return nil
}

// EndDraw freezes the line and moves to AwaitingLength. A zero-length line
// is rejected with ErrDegenerateLine and the engine returns to Idle.
func (e *Engine) EndDraw() error {
	if err := e.expect("end draw", Drawing); err != nil {
		return err
	}
	if e.state.Line.IsDegenerate() {
		e.state = State{Phase: Idle}
		return ErrDegenerateLine
	}
	e.state.Phase = AwaitingLength
	return nil
}

// ConfirmLength sets the real-world length of the drawn line and derives
// the factor. Invalid lengths leave the engine in AwaitingLength.
func (e *Engine) ConfirmLength(lengthCm float64) (float64, error) {
	if err := e.expect("confirm length", AwaitingLength); err != nil {
		return 0, err
	}
	if !isPositiveFinite(lengthCm) {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidLength, lengthCm)
	}

	ppc := e.state.Line.Length() / lengthCm
	if !isPositiveFinite(ppc) {
		// Unreachable for a non-degenerate line and finite length, but the
		// Calibrated invariant must never be violated.
		return 0, fmt.Errorf("%w: derived factor %v", ErrInvalidLength, ppc)
	}

	e.state = State{
		Phase:       Calibrated,
		Line:        e.state.Line,
		LengthCm:    lengthCm,
		PixelsPerCm: ppc,
	}
	return ppc, nil
}

// QuickCalibrate sets an unmeasured factor directly. The resulting state is
// marked Estimated; it replaces whatever phase the engine was in.
func (e *Engine) QuickCalibrate(pixelsPerCm float64) error {
	if !isPositiveFinite(pixelsPerCm) {
		return fmt.Errorf("%w: got %v", ErrInvalidScale, pixelsPerCm)
	}
	e.state = State{Phase: Calibrated, PixelsPerCm: pixelsPerCm, Estimated: true}
	return nil
}

// Reset returns the engine to Idle, discarding any line and factor.
func (e *Engine) Reset() {
	e.state = State{Phase: Idle}
}

// GuideLine returns the reference line while it should be drawn on the
// canvas: during Drawing and AwaitingLength, and after a measured
// calibration.
func (e *Engine) GuideLine() (geometry.Line, bool) {
	switch e.state.Phase {
	case Drawing, AwaitingLength:
		return e.state.Line, true
	case Calibrated:
		if !e.state.Estimated {
			return e.state.Line, true
		}
	}
	return geometry.Line{}, false
}

func (e *Engine) expect(op string, want Phase) error {
	if e.state.Phase != want {
		return fmt.Errorf("%w: %s requires %s, engine is %s", ErrInvalidTransition, op, want, e.state.Phase)
	}
	return nil
}

func isPositiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
