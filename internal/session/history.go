package session

import (
	"errors"

	"github.com/ironsheep/room-overlay-mcp/internal/compositor"
)

var (
	// ErrNothingToUndo is returned by Undo at the oldest snapshot.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrNothingToRedo is returned by Redo at the newest snapshot.
	ErrNothingToRedo = errors.New("nothing to redo")
)

// DefaultHistoryLimit caps the number of snapshots kept.
const DefaultHistoryLimit = 50

// Snapshot is an immutable copy of the overlay state. A nil Overlay means no
// overlay was attached.
type Snapshot struct {
	Overlay *compositor.Overlay `json:"overlay,omitempty"`
	Label   string              `json:"label"`
}

func snapshotOf(o compositor.Overlay, ok bool, label string) Snapshot {
	if !ok {
		return Snapshot{Label: label}
	}
	cp := o.Clone()
	return Snapshot{Overlay: &cp, Label: label}
}

// overlay returns a deep copy of the snapshot's overlay.
func (s Snapshot) overlay() *compositor.Overlay {
	if s.Overlay == nil {
		return nil
	}
	cp := s.Overlay.Clone()
	return &cp
}

// history is a linear undo stack with a cursor. entries[cursor] mirrors the
// scene; recording after an undo discards the redo branch.
type history struct {
	limit   int
	entries []Snapshot
	cursor  int
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	h := &history{limit: limit}
	h.reset()
	return h
}

func (h *history) reset() {
	h.entries = []Snapshot{{Label: "initial"}}
	h.cursor = 0
}

func (h *history) record(s Snapshot) {
	h.entries = append(h.entries[:h.cursor+1], s)
	if len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
	h.cursor = len(h.entries) - 1
}

func (h *history) current() Snapshot { return h.entries[h.cursor] }

func (h *history) canUndo() bool { return h.cursor > 0 }
func (h *history) canRedo() bool { return h.cursor < len(h.entries)-1 }

func (h *history) undo() (Snapshot, error) {
	if !h.canUndo() {
		return Snapshot{}, ErrNothingToUndo
	}
	h.cursor--
	return h.entries[h.cursor], nil
}

func (h *history) redo() (Snapshot, error) {
	if !h.canRedo() {
		return Snapshot{}, ErrNothingToRedo
	}
	h.cursor++
	return h.entries[h.cursor], nil
}
