// Package compositor owns the drawable scene: the room photo, the product
// overlay and the guides drawn while calibrating or masking.
//
// The scene is an arena of entities keyed by stable ids plus an ordered
// layer list. Index 0 is always the background photo; the overlay, the mask
// guide and the calibration guide are layered above it in that order. The
// Compositor is the only mutator of entities. Callers receive copies, never
// pointers into the arena, so every change goes through this API and the
// at-most-one-overlay rule cannot be bypassed.
//
// Compositor is not safe for concurrent use; the session serializes access.
package compositor

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/ironsheep/room-overlay-mcp/internal/geometry"
	"github.com/ironsheep/room-overlay-mcp/internal/imaging"
)

var (
	// ErrCanvasInit means no render surface could be set up. It is fatal
	// for the session.
	ErrCanvasInit = errors.New("cannot initialize canvas")

	// ErrNoActiveOverlay is returned by operations on the overlay when none
	// is attached.
	ErrNoActiveOverlay = errors.New("no active overlay")

	// ErrInvalidOpacity is returned for opacities outside [0,100] or NaN.
	ErrInvalidOpacity = errors.New("opacity must be between 0 and 100")

	// ErrInvalidTransform is returned for non-positive or non-finite scales
	// and non-finite positions.
	ErrInvalidTransform = errors.New("invalid overlay transform")

	// ErrInvalidClip is returned for clip polygons with fewer than three points.
	ErrInvalidClip = errors.New("clip polygon needs three points that are not all on one line")
)

// MaxCanvasSide bounds either canvas dimension.
const MaxCanvasSide = 8192

// EntityID identifies an entity in the scene arena.
type EntityID string

// Kind is the entity type. Its numeric order is the layer order.
type Kind int

const (
	KindBackground Kind = iota
	KindOverlay
	KindMaskGuide
	KindCalibrationGuide
)

func (k Kind) String() string {
	switch k {
	case KindBackground:
		return "background"
	case KindOverlay:
		return "overlay"
	case KindMaskGuide:
		return "mask_guide"
	case KindCalibrationGuide:
		return "calibration_guide"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText renders the kind by name in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ImageSource resolves image refs. *imaging.Store satisfies it.
type ImageSource interface {
	Load(ref string) (image.Image, error)
}

// Transform places an overlay image on the canvas. The image's top-left
// corner goes to (X, Y); it is scaled by ScaleX/ScaleY and rotated by Angle
// degrees clockwise around that corner.
type Transform struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	ScaleX float64 `json:"scale_x"`
	ScaleY float64 `json:"scale_y"`
	Angle  float64 `json:"angle"`
}

func (t Transform) valid() bool {
	finite := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	return finite(t.X) && finite(t.Y) && finite(t.Angle) &&
		finite(t.ScaleX) && finite(t.ScaleY) && t.ScaleX > 0 && t.ScaleY > 0
}

// Overlay is a product image placed on the canvas.
type Overlay struct {
	ProductID  string       `json:"product_id"`
	SourceRef  string       `json:"source_ref"`
	NativeSize imaging.Size `json:"native_size"`
	Transform  Transform    `json:"transform"`

	// Opacity is a percentage in [0,100].
	Opacity float64 `json:"opacity"`

	// Clip restricts the visible area to a closed polygon in canvas
	// coordinates. Nil means unclipped.
	Clip *geometry.Polygon `json:"clip,omitempty"`

	Generation   uint64 `json:"generation"`
	IsFallback   bool   `json:"is_fallback"`
	AspectLocked bool   `json:"aspect_locked"`
}

// Clone returns a deep copy.
func (o Overlay) Clone() Overlay {
	o.Clip = o.Clip.Clone()
	return o
}

// RenderedSize is the overlay's unrotated size on the canvas in pixels.
func (o Overlay) RenderedSize() (float64, float64) {
	return float64(o.NativeSize.Width) * o.Transform.ScaleX, float64(o.NativeSize.Height) * o.Transform.ScaleY
}

// Background is the room photo fitted into the canvas.
type Background struct {
	Ref        string         `json:"ref"`
	NativeSize imaging.Size   `json:"native_size"`
	Scale      float64        `json:"scale"`
	Offset     geometry.Point `json:"offset"`
}

// RenderedSize is the fitted size of the photo on the canvas.
func (b Background) RenderedSize() (int, int) {
	return int(math.Round(float64(b.NativeSize.Width) * b.Scale)), int(math.Round(float64(b.NativeSize.Height) * b.Scale))
}

// EntityView is a read-only copy of one scene entity.
type EntityView struct {
	ID          EntityID         `json:"id"`
	Kind        Kind             `json:"kind"`
	Interactive bool             `json:"interactive"`
	Background  *Background      `json:"background,omitempty"`
	Overlay     *Overlay         `json:"overlay,omitempty"`
	Line        *geometry.Line   `json:"line,omitempty"`
	Points      []geometry.Point `json:"points,omitempty"`
}

type entity struct {
	id          EntityID
	kind        Kind
	interactive bool

	background *Background
	overlay    *Overlay
	line       *geometry.Line
	points     []geometry.Point

	// lockRatio is ScaleX/ScaleY captured when the aspect lock engaged.
	lockRatio float64
}

func (e *entity) view() EntityView {
	v := EntityView{ID: e.id, Kind: e.kind, Interactive: e.interactive}
	if e.background != nil {
		bg := *e.background
		v.Background = &bg
	}
	if e.overlay != nil {
		o := e.overlay.Clone()
		v.Overlay = &o
	}
	if e.line != nil {
		l := *e.line
		v.Line = &l
	}
	if e.points != nil {
		v.Points = append([]geometry.Point(nil), e.points...)
	}
	return v
}

// Options configures the canvas and the fixed render constants.
type Options struct {
	Width  int
	Height int

	// Fill is the canvas colour behind the photo.
	Fill color.Color

	Shadow ShadowOptions

	// GuideColor strokes the calibration line and mask outline.
	GuideColor color.Color
}

// ShadowOptions are the drop-shadow constants. They are aesthetic values,
// not derived from the scene lighting.
type ShadowOptions struct {
	BlurRadius float64
	OffsetX    float64
	OffsetY    float64

	// Alpha scales the overlay's alpha for the shadow, in [0,1].
	Alpha float64
	Color color.Color
}

// DefaultOptions returns an 800x600 white canvas with the standard shadow.
func DefaultOptions() Options {
	return Options{
		Width:  800,
		Height: 600,
		Fill:   color.White,
		Shadow: ShadowOptions{
			BlurRadius: 8,
			OffsetX:    4,
			OffsetY:    6,
			Alpha:      0.35,
			Color:      color.Black,
		},
		GuideColor: color.NRGBA{R: 59, G: 130, B: 246, A: 255},
	}
}

// Compositor owns the scene.
type Compositor struct {
	opts   Options
	images ImageSource

	arena map[EntityID]*entity
	order []EntityID

	background       EntityID
	active           EntityID
	maskGuide        EntityID
	calibrationGuide EntityID
}

// New acquires a canvas of the configured size. It fails with ErrCanvasInit
// when the surface cannot exist.
func New(opts Options, images ImageSource) (*Compositor, error) {
	if opts.Width <= 0 || opts.Height <= 0 || opts.Width > MaxCanvasSide || opts.Height > MaxCanvasSide {
		return nil, fmt.Errorf("%w: canvas size %dx%d", ErrCanvasInit, opts.Width, opts.Height)
	}
	if images == nil {
		return nil, fmt.Errorf("%w: no image source", ErrCanvasInit)
	}
	if opts.Fill == nil {
		opts.Fill = color.White
	}
	if opts.GuideColor == nil {
		opts.GuideColor = DefaultOptions().GuideColor
	}
	if opts.Shadow.Color == nil {
		opts.Shadow.Color = color.Black
	}
	return &Compositor{
		opts:   opts,
		images: images,
		arena:  make(map[EntityID]*entity),
	}, nil
}

// Size returns the canvas size in pixels.
func (c *Compositor) Size() (int, int) {
	return c.opts.Width, c.opts.Height
}

// SetBackground fits the photo into the canvas preserving its aspect ratio,
// centers it and places it at index 0. The photo is not interactive. An
// existing background is replaced.
func (c *Compositor) SetBackground(ref string) (Background, error) {
	img, err := c.images.Load(ref)
	if err != nil {
		return Background{}, fmt.Errorf("load background: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return Background{}, fmt.Errorf("load background: %s is empty", ref)
	}

	cw, ch := float64(c.opts.Width), float64(c.opts.Height)
	w, h := float64(b.Dx()), float64(b.Dy())
	scale := math.Min(cw/w, ch/h)

	bg := &Background{
		Ref:        ref,
		NativeSize: imaging.Size{Width: b.Dx(), Height: b.Dy()},
		Scale:      scale,
		Offset:     geometry.Pt((cw-w*scale)/2, (ch-h*scale)/2),
	}

	if e, ok := c.arena[c.background]; ok {
		e.background = bg
	} else {
		c.background = c.insert(&entity{kind: KindBackground, background: bg})
	}
	return *bg, nil
}

// Background returns the current background, if any.
func (c *Compositor) Background() (Background, bool) {
	e, ok := c.arena[c.background]
	if !ok {
		return Background{}, false
	}
	return *e.background, true
}

// AttachOverlay makes o the active overlay. Any prior overlay is detached
// first within the same call, so no render ever sees two overlays.
func (c *Compositor) AttachOverlay(o Overlay) (EntityID, error) {
	if !o.Transform.valid() {
		return "", fmt.Errorf("%w: %+v", ErrInvalidTransform, o.Transform)
	}
	if !validOpacity(o.Opacity) {
		return "", fmt.Errorf("%w: got %v", ErrInvalidOpacity, o.Opacity)
	}
	if o.Clip != nil && !o.Clip.Valid() {
		return "", ErrInvalidClip
	}

	c.DetachActiveOverlay()

	cp := o.Clone()
	c.active = c.insert(&entity{
		kind:        KindOverlay,
		interactive: true,
		overlay:     &cp,
		lockRatio:   cp.Transform.ScaleX / cp.Transform.ScaleY,
	})
	return c.active, nil
}

// DetachActiveOverlay removes the active overlay and its clip. It reports
// whether an overlay was attached.
func (c *Compositor) DetachActiveOverlay() bool {
	if _, ok := c.arena[c.active]; !ok {
		return false
	}
	c.remove(c.active)
	c.active = ""
	return true
}

// ActiveOverlay returns a copy of the active overlay.
func (c *Compositor) ActiveOverlay() (Overlay, bool) {
	e, ok := c.arena[c.active]
	if !ok {
		return Overlay{}, false
	}
	return e.overlay.Clone(), true
}

// ActiveID returns the id of the active overlay.
func (c *Compositor) ActiveID() (EntityID, bool) {
	_, ok := c.arena[c.active]
	return c.active, ok
}

// ApplyOpacity sets the active overlay's opacity without recreating it.
func (c *Compositor) ApplyOpacity(percent float64) error {
	if !validOpacity(percent) {
		return fmt.Errorf("%w: got %v", ErrInvalidOpacity, percent)
	}
	e, err := c.activeEntity()
	if err != nil {
		return err
	}
	e.overlay.Opacity = percent
	return nil
}

// ApplyClip sets (or with nil, removes) the active overlay's clip polygon.
// The polygon is copied and closed.
func (c *Compositor) ApplyClip(pg *geometry.Polygon) error {
	if pg != nil && !pg.Valid() {
		return ErrInvalidClip
	}
	e, err := c.activeEntity()
	if err != nil {
		return err
	}
	if pg == nil {
		e.overlay.Clip = nil
		return nil
	}
	e.overlay.Clip = geometry.NewClosedPolygon(pg.Points)
	return nil
}

// SetCalibrationGuide shows the reference line; nil hides it.
func (c *Compositor) SetCalibrationGuide(line *geometry.Line) {
	if line == nil {
		c.remove(c.calibrationGuide)
		c.calibrationGuide = ""
		return
	}
	l := *line
	if e, ok := c.arena[c.calibrationGuide]; ok {
		e.line = &l
		return
	}
	c.calibrationGuide = c.insert(&entity{kind: KindCalibrationGuide, line: &l})
}

// SetMaskGuide shows the polygon being collected; an empty slice hides it.
func (c *Compositor) SetMaskGuide(points []geometry.Point) {
	if len(points) == 0 {
		c.remove(c.maskGuide)
		c.maskGuide = ""
		return
	}
	pts := append([]geometry.Point(nil), points...)
	if e, ok := c.arena[c.maskGuide]; ok {
		e.points = pts
		return
	}
	c.maskGuide = c.insert(&entity{kind: KindMaskGuide, points: pts})
}

// Entities returns the scene in layer order.
func (c *Compositor) Entities() []EntityView {
	out := make([]EntityView, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.arena[id].view())
	}
	return out
}

// Entity returns one entity by id.
func (c *Compositor) Entity(id EntityID) (EntityView, bool) {
	e, ok := c.arena[id]
	if !ok {
		return EntityView{}, false
	}
	return e.view(), true
}

// Clear removes every entity, including the background.
func (c *Compositor) Clear() {
	c.arena = make(map[EntityID]*entity)
	c.order = nil
	c.background, c.active, c.maskGuide, c.calibrationGuide = "", "", "", ""
}

func (c *Compositor) activeEntity() (*entity, error) {
	e, ok := c.arena[c.active]
	if !ok {
		return nil, ErrNoActiveOverlay
	}
	return e, nil
}

// insert adds e to the arena under a fresh id and keeps the layer order.
func (c *Compositor) insert(e *entity) EntityID {
	e.id = EntityID(uuid.NewString())
	c.arena[e.id] = e
	c.order = append(c.order, e.id)
	sort.SliceStable(c.order, func(i, j int) bool {
		return c.arena[c.order[i]].kind < c.arena[c.order[j]].kind
	})
	return e.id
}

func (c *Compositor) remove(id EntityID) {
	if _, ok := c.arena[id]; !ok {
		return
	}
	delete(c.arena, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func validOpacity(p float64) bool {
	return p >= 0 && p <= 100
}
