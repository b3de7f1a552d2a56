// Package overlay places catalog products on the canvas at real-world scale.
//
// A placement computes the product's target size in canvas pixels from the
// calibrated pixels-per-centimeter factor, asks the background remover for a
// cut-out version of the product image and attaches the result as the
// session's single overlay. Removal runs in its own goroutine. Every
// placement is stamped with a strictly increasing generation; a result whose
// generation is no longer the latest is dropped, so a slow removal can never
// overwrite a newer placement.
//
// Engine methods must be called with the engine's lock held. Removal
// completions acquire the same lock before they touch the compositor.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ironsheep/room-overlay-mcp/internal/bgremoval"
	"github.com/ironsheep/room-overlay-mcp/internal/calibration"
	"github.com/ironsheep/room-overlay-mcp/internal/catalog"
	"github.com/ironsheep/room-overlay-mcp/internal/compositor"
	"github.com/ironsheep/room-overlay-mcp/internal/geometry"
	"github.com/ironsheep/room-overlay-mcp/internal/imaging"
	"github.com/ironsheep/room-overlay-mcp/internal/metrics"
	"github.com/ironsheep/room-overlay-mcp/internal/notify"
)

var (
	// ErrStalePlacement is reported for a placement superseded before its
	// background removal finished.
	ErrStalePlacement = errors.New("placement superseded by a newer request")

	// ErrNotCalibrated is returned when a product is placed before the
	// canvas scale is known.
	ErrNotCalibrated = errors.New("canvas is not calibrated")

	// ErrInvalidProduct is returned for products without positive, finite
	// dimensions or without an image.
	ErrInvalidProduct = errors.New("invalid product")

	// ErrClosed is returned by PlaceProduct once Drain has been called.
	ErrClosed = errors.New("placement engine is closed")
)

// Outcome is how a placement settled.
type Outcome int

const (
	// OutcomePending means the removal has not finished.
	OutcomePending Outcome = iota
	// OutcomeCommitted means the cut-out image was attached.
	OutcomeCommitted
	// OutcomeFallback means removal failed and the original image was attached.
	OutcomeFallback
	// OutcomeStale means a newer placement superseded this one.
	OutcomeStale
	// OutcomeFailed means neither image could be loaded; nothing was attached.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeCommitted:
		return metrics.OutcomeCommitted
	case OutcomeFallback:
		return metrics.OutcomeFallback
	case OutcomeStale:
		return metrics.OutcomeStale
	case OutcomeFailed:
		return metrics.OutcomeFailed
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MarshalText renders the outcome by name in JSON results.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Request identifies one placement.
type Request struct {
	ProductID  string `json:"product_id"`
	Generation uint64 `json:"generation"`
}

// Result is the settled state of a placement.
type Result struct {
	Request
	Outcome  Outcome             `json:"outcome"`
	EntityID compositor.EntityID `json:"entity_id,omitempty"`
	Overlay  *compositor.Overlay `json:"overlay,omitempty"`
	Err      error               `json:"-"`
}

// Pending tracks an in-flight placement.
type Pending struct {
	Request Request

	done   chan struct{}
	result Result
}

func newPending(req Request) *Pending {
	return &Pending{Request: req, done: make(chan struct{})}
}

// Done is closed once the placement has settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the placement settles or ctx ends. The returned error is
// the placement's own error (ErrStalePlacement for a superseded request) or
// ctx.Err().
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, p.result.Err
	case <-ctx.Done():
		return Result{Request: p.Request, Outcome: OutcomePending}, ctx.Err()
	}
}

func (p *Pending) settle(r Result) {
	p.result = r
	close(p.done)
}

// CalibrationSource reports the current calibration. *calibration.Engine
// satisfies it.
type CalibrationSource interface {
	State() calibration.State
}

// Options are the placement defaults.
type Options struct {
	// Anchor is the canvas position of a new overlay's top-left corner.
	Anchor geometry.Point

	// DefaultOpacity is the opacity of the first placement, in [0,100].
	DefaultOpacity float64

	// AspectLock scales both axes by the smaller factor so the product is
	// never distorted.
	AspectLock bool

	// RemovalTimeout bounds one background-removal call.
	RemovalTimeout time.Duration
}

// DefaultOptions returns anchor (100,100), 80% opacity, aspect lock on and
// a 30 second removal timeout.
func DefaultOptions() Options {
	return Options{
		Anchor:         geometry.Pt(100, 100),
		DefaultOpacity: 80,
		AspectLock:     true,
		RemovalTimeout: bgremoval.DefaultTimeout,
	}
}

// Deps are the collaborators of an Engine. Compositor, Calibration and
// Images are required.
type Deps struct {
	// Lock is held by callers of Engine methods. Removal completions acquire
	// it. Nil gets a private mutex.
	Lock sync.Locker

	Calibration CalibrationSource
	Compositor  *compositor.Compositor
	Images      *imaging.Store

	// Remover nil disables background removal.
	Remover  bgremoval.Remover
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// OnSettle runs with the lock held after every placement settles.
	OnSettle func(Result)
}

// Engine is the placement state machine of one session.
type Engine struct {
	opts Options
	deps Deps

	latest  uint64
	opacity float64

	// closed is set by Drain; wg.Add must not race its Wait.
	closed bool
	wg     sync.WaitGroup
}

// New returns an engine. Missing optional deps get no-op defaults.
func New(opts Options, deps Deps) (*Engine, error) {
	if deps.Calibration == nil || deps.Compositor == nil || deps.Images == nil {
		return nil, errors.New("overlay engine requires calibration, compositor and image store")
	}
	if opts.DefaultOpacity < 0 || opts.DefaultOpacity > 100 || math.IsNaN(opts.DefaultOpacity) {
		return nil, fmt.Errorf("%w: default %v", compositor.ErrInvalidOpacity, opts.DefaultOpacity)
	}
	if opts.RemovalTimeout <= 0 {
		opts.RemovalTimeout = bgremoval.DefaultTimeout
	}
	if deps.Lock == nil {
		deps.Lock = &sync.Mutex{}
	}
	if deps.Remover == nil {
		deps.Remover = bgremoval.Disabled{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{opts: opts, deps: deps, opacity: opts.DefaultOpacity}, nil
}

// TargetSize is the product's size in canvas pixels.
func TargetSize(p catalog.Product, pixelsPerCm float64) (float64, float64) {
	return p.WidthCm * pixelsPerCm, p.HeightCm * pixelsPerCm
}

// ScaleFor returns the factors that bring an image of the native size to the
// target size. With lock both factors are the smaller of the two.
func ScaleFor(targetW, targetH float64, native imaging.Size, lock bool) (float64, float64) {
	sx := targetW / float64(native.Width)
	sy := targetH / float64(native.Height)
	if lock {
		m := math.Min(sx, sy)
		return m, m
	}
	return sx, sy
}

// Latest returns the generation of the most recent placement request.
func (e *Engine) Latest() uint64 {
	return e.latest
}

// Opacity returns the opacity applied to the next placement.
func (e *Engine) Opacity() float64 {
	return e.opacity
}

// PlaceProduct starts placing p. The prior overlay is detached before this
// returns; the new one is attached when background removal settles. The
// removal outlives ctx's cancellation but not its values, and is bounded by
// the removal timeout.
func (e *Engine) PlaceProduct(ctx context.Context, p catalog.Product) (*Pending, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProduct, err)
	}
	state := e.deps.Calibration.State()
	if !state.IsCalibrated() {
		return nil, fmt.Errorf("%w: place %s", ErrNotCalibrated, p.ID)
	}

	e.latest++
	pending := newPending(Request{ProductID: p.ID, Generation: e.latest})
	e.deps.Compositor.DetachActiveOverlay()

	e.deps.Logger.Debug("placement requested",
		"product", p.ID,
		"generation", pending.Request.Generation,
		"pixels_per_cm", state.PixelsPerCm)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.RemovalTimeout)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		e.run(rctx, pending, p, state.PixelsPerCm)
	}()
	return pending, nil
}

// run performs the removal without the lock, then commits or drops.
func (e *Engine) run(ctx context.Context, pending *Pending, p catalog.Product, ppc float64) {
	start := time.Now()
	ref, err := e.deps.Remover.RemoveBackground(ctx, p.ImageRef)
	e.deps.Metrics.ObserveRemoval(time.Since(start).Seconds())

	fallback := err != nil
	var size imaging.Size
	if !fallback {
		size, err = e.deps.Images.Dimensions(ref)
		if err != nil {
			fallback = true
		}
	}
	removalErr := err
	if fallback {
		ref = p.ImageRef
		size, err = e.deps.Images.Dimensions(ref)
		if err == nil && (size.Width == 0 || size.Height == 0) {
			err = fmt.Errorf("image %s is empty", ref)
		}
	}

	e.deps.Lock.Lock()
	defer e.deps.Lock.Unlock()

	res := Result{Request: pending.Request}
	switch {
	case pending.Request.Generation != e.latest:
		res.Outcome = OutcomeStale
		res.Err = fmt.Errorf("%w: generation %d, latest %d", ErrStalePlacement, pending.Request.Generation, e.latest)
		if !fallback && ref != p.ImageRef {
			e.deps.Images.Evict(ref)
		}
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("place %s: %w", p.ID, err)
	default:
		res = e.commit(pending.Request, p, ref, size, ppc, fallback)
	}

	e.report(res, p, removalErr)
	if e.deps.OnSettle != nil {
		e.deps.OnSettle(res)
	}
	pending.settle(res)
}

func (e *Engine) commit(req Request, p catalog.Product, ref string, size imaging.Size, ppc float64, fallback bool) Result {
	tw, th := TargetSize(p, ppc)
	sx, sy := ScaleFor(tw, th, size, e.opts.AspectLock)
	o := compositor.Overlay{
		ProductID:  p.ID,
		SourceRef:  ref,
		NativeSize: size,
		Transform: compositor.Transform{
			X:      e.opts.Anchor.X,
			Y:      e.opts.Anchor.Y,
			ScaleX: sx,
			ScaleY: sy,
		},
		Opacity:      e.opacity,
		Generation:   req.Generation,
		IsFallback:   fallback,
		AspectLocked: e.opts.AspectLock,
	}

	id, err := e.deps.Compositor.AttachOverlay(o)
	if err != nil {
		return Result{Request: req, Outcome: OutcomeFailed, Err: fmt.Errorf("place %s: %w", p.ID, err)}
	}
	outcome := OutcomeCommitted
	if fallback {
		outcome = OutcomeFallback
	}
	return Result{Request: req, Outcome: outcome, EntityID: id, Overlay: &o}
}

func (e *Engine) report(res Result, p catalog.Product, removalErr error) {
	e.deps.Metrics.ObservePlacement(res.Outcome.String())
	log := e.deps.Logger.With("product", p.ID, "generation", res.Generation)

	switch res.Outcome {
	case OutcomeCommitted:
		log.Info("overlay placed")
		e.deps.Notifier.Notify(notify.Notification{
			Title:       "Product placed",
			Description: fmt.Sprintf("%s is shown at real-world scale.", p.Name),
			Severity:    notify.SeveritySuccess,
		})
	case OutcomeFallback:
		log.Warn("background removal failed, using original image", "error", removalErr)
		e.deps.Notifier.Notify(notify.Notification{
			Title:       "Background removal failed",
			Description: fmt.Sprintf("Showing the original image of %s instead.", p.Name),
			Severity:    notify.SeverityWarning,
		})
	case OutcomeStale:
		log.Debug("placement superseded", "latest", e.latest)
	case OutcomeFailed:
		log.Error("placement failed", "error", res.Err)
		e.deps.Notifier.Notify(notify.Notification{
			Title:       "Could not place product",
			Description: res.Err.Error(),
			Severity:    notify.SeverityError,
		})
	}
}

// SetOpacity changes the active overlay's opacity in place and keeps it for
// later placements. Invalid values and a missing overlay leave everything
// unchanged.
func (e *Engine) SetOpacity(percent float64) error {
	if err := e.deps.Compositor.ApplyOpacity(percent); err != nil {
		return err
	}
	e.opacity = percent
	return nil
}

// Supersede invalidates every in-flight placement without starting a new one.
func (e *Engine) Supersede() {
	e.latest++
}

// Restore replaces the active overlay with o (nil detaches it) and supersedes
// in-flight placements. The overlay's opacity becomes the current opacity.
func (e *Engine) Restore(o *compositor.Overlay) error {
	e.Supersede()
	if o == nil {
		e.deps.Compositor.DetachActiveOverlay()
		return nil
	}
	if _, err := e.deps.Compositor.AttachOverlay(*o); err != nil {
		return err
	}
	e.opacity = o.Opacity
	return nil
}

// Drain closes the engine to new placements and waits for in-flight
// removals to settle or for ctx to end. It must be called without the lock
// held.
func (e *Engine) Drain(ctx context.Context) error {
	e.deps.Lock.Lock()
	e.closed = true
	e.deps.Lock.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
