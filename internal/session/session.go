// Package session ties the calibration engine, the placement engine, the
// mask editor and the compositor into one editing session.
//
// Every exported method holds the session lock for its synchronous part, so
// engine and scene mutations never interleave. Background removal runs
// outside the lock and re-acquires it to commit. The session also keeps the
// undo history of committed overlay changes and routes user-facing messages
// to the configured notifier.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ironsheep/room-overlay-mcp/internal/bgremoval"
	"github.com/ironsheep/room-overlay-mcp/internal/calibration"
	"github.com/ironsheep/room-overlay-mcp/internal/catalog"
	"github.com/ironsheep/room-overlay-mcp/internal/compositor"
	"github.com/ironsheep/room-overlay-mcp/internal/geometry"
	"github.com/ironsheep/room-overlay-mcp/internal/imaging"
	"github.com/ironsheep/room-overlay-mcp/internal/mask"
	"github.com/ironsheep/room-overlay-mcp/internal/metrics"
	"github.com/ironsheep/room-overlay-mcp/internal/notify"
	"github.com/ironsheep/room-overlay-mcp/internal/overlay"
)

// ErrNoPhoto is returned by operations that need a room photo before one
// has been loaded.
var ErrNoPhoto = errors.New("no room photo loaded")

// DefaultQuickPixelsPerCm is the unmeasured scale used by QuickEstimate when
// no explicit factor is given.
const DefaultQuickPixelsPerCm = 2.0

// Calibration result labels for metrics.
const (
	calibrationMeasured      = "measured"
	calibrationEstimated     = "estimated"
	calibrationDegenerate    = "degenerate"
	calibrationInvalidLength = "invalid_length"
)

// Options configure a session.
type Options struct {
	Canvas  compositor.Options
	Overlay overlay.Options

	// QuickPixelsPerCm is the factor QuickEstimate uses for a zero argument.
	QuickPixelsPerCm float64

	HistoryLimit int
}

// DefaultOptions returns the standard canvas, placement defaults and history.
func DefaultOptions() Options {
	return Options{
		Canvas:           compositor.DefaultOptions(),
		Overlay:          overlay.DefaultOptions(),
		QuickPixelsPerCm: DefaultQuickPixelsPerCm,
		HistoryLimit:     DefaultHistoryLimit,
	}
}

// Deps are the shared services a session uses. Images and Catalog are
// required.
type Deps struct {
	Images   *imaging.Store
	Catalog  *catalog.Catalog
	Remover  bgremoval.Remover
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Session is one user's editing session.
type Session struct {
	mu sync.Mutex

	id   string
	opts Options

	images   *imaging.Store
	catalog  *catalog.Catalog
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	calib   *calibration.Engine
	scene   *compositor.Compositor
	placer  *overlay.Engine
	mask    *mask.Editor
	history *history

	// placing is set while the latest placement has not settled.
	placing bool
	photo   string
}

// New builds a session. A canvas that cannot be created is fatal and is
// returned as compositor.ErrCanvasInit.
func New(opts Options, deps Deps) (*Session, error) {
	if deps.Images == nil || deps.Catalog == nil {
		return nil, errors.New("session requires an image store and a catalog")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.QuickPixelsPerCm <= 0 {
		opts.QuickPixelsPerCm = DefaultQuickPixelsPerCm
	}

	s := &Session{
		id:       uuid.NewString(),
		opts:     opts,
		images:   deps.Images,
		catalog:  deps.Catalog,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		calib:    calibration.New(),
		history:  newHistory(opts.HistoryLimit),
	}
	s.logger = deps.Logger.With("session", s.id)

	scene, err := compositor.New(opts.Canvas, deps.Images)
	if err != nil {
		return nil, err
	}
	s.scene = scene
	s.mask = mask.New(scene)

	s.placer, err = overlay.New(opts.Overlay, overlay.Deps{
		Lock:        &s.mu,
		Calibration: s.calib,
		Compositor:  scene,
		Images:      deps.Images,
		Remover:     deps.Remover,
		Notifier:    deps.Notifier,
		Metrics:     deps.Metrics,
		Logger:      s.logger,
		OnSettle:    s.onPlacementSettled,
	})
	if err != nil {
		return nil, fmt.Errorf("create placement engine: %w", err)
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Catalog returns the product catalog.
func (s *Session) Catalog() *catalog.Catalog {
	return s.catalog
}

// LoadPhoto makes the image behind ref the room photo. A new photo has a new
// scale, so calibration, the overlay, the mask and the history are reset.
func (s *Session) LoadPhoto(ref string) (compositor.Background, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bg, err := s.scene.SetBackground(ref)
	if err != nil {
		s.notify("Error loading image", "Failed to load the photo. Please try again.", notify.SeverityError)
		return compositor.Background{}, err
	}

	s.placer.Supersede()
	s.scene.DetachActiveOverlay()
	s.mask.Abandon()
	s.calib.Reset()
	s.syncGuide()
	s.history.reset()
	s.placing = false
	s.photo = ref

	s.logger.Info("photo loaded", "ref", ref, "width", bg.NativeSize.Width, "height", bg.NativeSize.Height, "scale", bg.Scale)
	s.notify("Photo loaded", "Draw a line over an object of known size to calibrate.", notify.SeverityInfo)
	return bg, nil
}

// LoadPhotoData decodes an encoded image and loads it as the room photo.
func (s *Session) LoadPhotoData(data []byte) (compositor.Background, error) {
	ref, err := s.images.PutEncoded(data)
	if err != nil {
		s.notify("Invalid file type", "Please select an image file.", notify.SeverityError)
		return compositor.Background{}, err
	}
	bg, err := s.LoadPhoto(ref)
	if err != nil {
		s.images.Evict(ref)
	}
	return bg, err
}

// PhotoInfo describes the loaded room photo as decoded.
func (s *Session) PhotoInfo() (*imaging.Info, error) {
	s.mu.Lock()
	ref := s.photo
	s.mu.Unlock()
	if ref == "" {
		return nil, ErrNoPhoto
	}
	return s.images.LoadInfo(ref)
}

// BeginCalibrationLine starts the reference line at p.
func (s *Session) BeginCalibrationLine(p geometry.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePhoto(); err != nil {
		return err
	}
	if err := s.calib.BeginDraw(p); err != nil {
		return err
	}
	s.syncGuide()
	return nil
}

// UpdateCalibrationLine moves the free end of the reference line.
func (s *Session) UpdateCalibrationLine(p geometry.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.calib.UpdateDraw(p); err != nil {
		return err
	}
	s.syncGuide()
	return nil
}

// EndCalibrationLine freezes the reference line and asks for its length.
func (s *Session) EndCalibrationLine() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.calib.EndDraw()
	s.syncGuide()
	if errors.Is(err, calibration.ErrDegenerateLine) {
		s.metrics.ObserveCalibration(calibrationDegenerate)
		s.notify("Line too short", "The reference line needs two different points. Draw it again.", notify.SeverityError)
	}
	if err != nil {
		return err
	}
	line := s.calib.State().Line
	s.notify("Enter the real length",
		fmt.Sprintf("The line is %.0f px long. How many centimeters does it cover?", line.Length()),
		notify.SeverityInfo)
	return nil
}

// ConfirmCalibrationLength completes calibration with the line's real
// length and returns the pixels-per-centimeter factor.
func (s *Session) ConfirmCalibrationLength(lengthCm float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ppc, err := s.calib.ConfirmLength(lengthCm)
	if errors.Is(err, calibration.ErrInvalidLength) {
		s.metrics.ObserveCalibration(calibrationInvalidLength)
		s.notify("Invalid length", "Enter a positive length in centimeters.", notify.SeverityError)
	}
	if err != nil {
		return 0, err
	}
	s.metrics.ObserveCalibration(calibrationMeasured)
	s.logger.Info("calibrated", "pixels_per_cm", ppc, "length_cm", lengthCm)
	s.notify("Calibration complete", fmt.Sprintf("Scale set to %.2f px/cm.", ppc), notify.SeveritySuccess)
	return ppc, nil
}

// QuickEstimate calibrates with an unmeasured factor. Zero uses the
// configured default. The result is flagged as an estimate.
func (s *Session) QuickEstimate(pixelsPerCm float64) (calibration.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requirePhoto(); err != nil {
		return calibration.State{}, err
	}
	if pixelsPerCm == 0 {
		pixelsPerCm = s.opts.QuickPixelsPerCm
	}
	if err := s.calib.QuickCalibrate(pixelsPerCm); err != nil {
		return calibration.State{}, err
	}
	s.syncGuide()
	s.metrics.ObserveCalibration(calibrationEstimated)
	s.logger.Warn("using estimated scale", "pixels_per_cm", pixelsPerCm)
	s.notify("Estimated scale",
		fmt.Sprintf("Using an unmeasured %.2f px/cm. Draw a reference line for accurate sizes.", pixelsPerCm),
		notify.SeverityWarning)
	return s.calib.State(), nil
}

// ResetCalibration discards the line and factor. The overlay stays where it
// is; later placements need a new calibration.
func (s *Session) ResetCalibration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calib.Reset()
	s.syncGuide()
}

// CalibrationState returns the current calibration.
func (s *Session) CalibrationState() calibration.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calib.State()
}

// PlaceProduct starts placing the catalog product with the given id. A mask
// outline being collected is abandoned; the previous overlay and its clip are
// replaced.
func (s *Session) PlaceProduct(ctx context.Context, productID string) (*overlay.Pending, error) {
	p, err := s.catalog.Get(productID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mask.Abandon()
	pending, err := s.placer.PlaceProduct(ctx, p)
	if errors.Is(err, overlay.ErrNotCalibrated) {
		s.notify("Calibrate first", "Draw a reference line before adding products.", notify.SeverityWarning)
	}
	if err != nil {
		return nil, err
	}
	s.placing = true
	return pending, nil
}

// onPlacementSettled runs with the lock held.
func (s *Session) onPlacementSettled(res overlay.Result) {
	if res.Outcome != overlay.OutcomeStale {
		s.placing = false
	}
	switch res.Outcome {
	case overlay.OutcomeCommitted, overlay.OutcomeFallback:
		s.record("place " + res.ProductID)
	case overlay.OutcomeFailed:
		// The prior overlay was detached when the request started.
		s.record("failed " + res.ProductID)
	}
}

// SetOpacity changes the active overlay's opacity.
func (s *Session) SetOpacity(percent float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.placer.SetOpacity(percent); err != nil {
		return err
	}
	s.record(fmt.Sprintf("opacity %.0f", percent))
	return nil
}

// MoveOverlay drags the active overlay by (dx, dy).
func (s *Session) MoveOverlay(dx, dy float64) error {
	return s.transform("move", func() error { return s.scene.MoveActive(dx, dy) })
}

// ResizeOverlay sets the active overlay's scale factors.
func (s *Session) ResizeOverlay(scaleX, scaleY float64) error {
	return s.transform("resize", func() error { return s.scene.ResizeActive(scaleX, scaleY) })
}

// RotateOverlay rotates the active overlay by deg degrees clockwise.
func (s *Session) RotateOverlay(deg float64) error {
	return s.transform("rotate", func() error { return s.scene.RotateActive(deg) })
}

// SetAspectLock engages or releases the active overlay's aspect lock.
func (s *Session) SetAspectLock(locked bool) error {
	return s.transform("aspect lock", func() error { return s.scene.SetAspectLock(locked) })
}

func (s *Session) transform(label string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	s.record(label)
	return nil
}

// ActiveOverlay returns a copy of the active overlay.
func (s *Session) ActiveOverlay() (compositor.Overlay, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scene.ActiveOverlay()
}

// Entities returns the scene in layer order.
func (s *Session) Entities() []compositor.EntityView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scene.Entities()
}

// HitTest returns the topmost interactive entity under the canvas point p.
func (s *Session) HitTest(p geometry.Point) (compositor.EntityView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.scene.HitTest(p)
	if !ok {
		return compositor.EntityView{}, false
	}
	return s.scene.Entity(id)
}

// CanvasSize returns the canvas dimensions in pixels.
func (s *Session) CanvasSize() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scene.Size()
}
