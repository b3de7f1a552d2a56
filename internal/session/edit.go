package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ironsheep/room-overlay-mcp/internal/calibration"
	"github.com/ironsheep/room-overlay-mcp/internal/compositor"
	"github.com/ironsheep/room-overlay-mcp/internal/geometry"
	"github.com/ironsheep/room-overlay-mcp/internal/mask"
	"github.com/ironsheep/room-overlay-mcp/internal/notify"
)

// DefaultExportName is the suggested file name of an exported scene.
const DefaultExportName = "room-visualization.png"

// StartMask begins a new mask outline.
func (s *Session) StartMask() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mask.Start(); err != nil {
		return err
	}
	s.notify("Draw the mask", "Click around the area where the product should stay visible.", notify.SeverityInfo)
	return nil
}

// AddMaskPoint appends a canvas point to the outline.
func (s *Session) AddMaskPoint(p geometry.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mask.AddPoint(p)
}

// UndoMaskPoint removes the most recent outline point.
func (s *Session) UndoMaskPoint() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mask.Undo()
}

// FinishMask closes the outline and clips the active overlay with it. It
// reports false when the outline had fewer than three points and was
// discarded.
func (s *Session) FinishMask() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied, err := s.mask.Finish()
	if err != nil {
		if errors.Is(err, compositor.ErrNoActiveOverlay) {
			s.notify("No product to mask", "Add a product before applying a mask.", notify.SeverityWarning)
		}
		return false, err
	}
	if !applied {
		s.notify("Mask discarded", "A mask needs at least three points.", notify.SeverityWarning)
		return false, nil
	}
	s.record("mask")
	s.notify("Mask applied", "The product is now clipped to the outline.", notify.SeveritySuccess)
	return true, nil
}

// ResetMask removes the clip and any outline in progress.
func (s *Session) ResetMask() {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.scene.ActiveOverlay()
	s.mask.Reset()
	if ok && o.Clip != nil {
		s.record("mask reset")
	}
}

// MaskState returns the editor state and the outline collected so far.
func (s *Session) MaskState() (mask.State, []geometry.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mask.State(), s.mask.Points()
}

// Undo restores the previous overlay snapshot. While a placement is in
// flight, Undo cancels it instead and restores the overlay it replaced.
// Superseded placements can never bring back a newer state.
func (s *Session) Undo() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.placing {
		s.placing = false
		snap := s.history.current()
		return snap, s.restore(snap)
	}
	snap, err := s.history.undo()
	if err != nil {
		return Snapshot{}, err
	}
	return snap, s.restore(snap)
}

// Redo re-applies the snapshot undone last.
func (s *Session) Redo() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placing = false
	snap, err := s.history.redo()
	if err != nil {
		return Snapshot{}, err
	}
	return snap, s.restore(snap)
}

func (s *Session) restore(snap Snapshot) error {
	s.mask.Abandon()
	if err := s.placer.Restore(snap.overlay()); err != nil {
		return fmt.Errorf("restore %s: %w", snap.Label, err)
	}
	return nil
}

// Export renders the scene at canvas resolution and encodes it.
func (s *Session) Export(w io.Writer, format compositor.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePhoto(); err != nil {
		return err
	}
	if err := s.scene.Export(w, format); err != nil {
		s.notify("Export failed", err.Error(), notify.SeverityError)
		return err
	}
	s.metrics.ObserveExport(string(format))
	s.notify("Downloaded", "Your visualization has been saved.", notify.SeveritySuccess)
	return nil
}

// Status summarizes the session for clients.
type Status struct {
	ID          string                 `json:"id"`
	HasPhoto    bool                   `json:"has_photo"`
	Background  *compositor.Background `json:"background,omitempty"`
	Calibration calibration.State      `json:"calibration"`
	Phase       string                 `json:"calibration_phase"`
	Mask        string                 `json:"mask_state"`
	OverlayID   compositor.EntityID    `json:"overlay_id,omitempty"`
	Overlay     *compositor.Overlay    `json:"overlay,omitempty"`
	Corners     []geometry.Point       `json:"overlay_corners,omitempty"`
	Opacity     float64                `json:"opacity"`
	Generation  uint64                 `json:"latest_generation"`
	CanUndo     bool                   `json:"can_undo"`
	CanRedo     bool                   `json:"can_redo"`
}

// Status returns a snapshot of the session state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ID:          s.id,
		HasPhoto:    s.photo != "",
		Calibration: s.calib.State(),
		Phase:       s.calib.State().Phase.String(),
		Mask:        s.mask.State().String(),
		Opacity:     s.placer.Opacity(),
		Generation:  s.placer.Latest(),
		CanUndo:     s.history.canUndo(),
		CanRedo:     s.history.canRedo(),
	}
	if bg, ok := s.scene.Background(); ok {
		st.Background = &bg
	}
	if o, ok := s.scene.ActiveOverlay(); ok {
		st.Overlay = &o
		st.Corners = o.Corners()
		st.OverlayID, _ = s.scene.ActiveID()
	}
	return st
}

// Reset clears the photo, calibration, overlay, mask and history.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placer.Supersede()
	s.mask.Abandon()
	s.calib.Reset()
	s.scene.Clear()
	s.history.reset()
	s.placing = false
	s.photo = ""
	s.logger.Info("session reset")
}

// Close waits for in-flight placements to settle or for ctx to end.
func (s *Session) Close(ctx context.Context) error {
	return s.placer.Drain(ctx)
}

// record pushes the current overlay state onto the history.
func (s *Session) record(label string) {
	o, ok := s.scene.ActiveOverlay()
	s.history.record(snapshotOf(o, ok, label))
}

// syncGuide mirrors the calibration line into the scene.
func (s *Session) syncGuide() {
	if line, ok := s.calib.GuideLine(); ok {
		s.scene.SetCalibrationGuide(&line)
		return
	}
	s.scene.SetCalibrationGuide(nil)
}

func (s *Session) requirePhoto() error {
	if s.photo == "" {
		return ErrNoPhoto
	}
	return nil
}

func (s *Session) notify(title, description string, severity notify.Severity) {
	s.notifier.Notify(notify.Notification{Title: title, Description: description, Severity: severity})
}
