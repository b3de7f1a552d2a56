package session

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type harness struct {
	s       *Session
	store   *imaging.Store
	notes   *notify.Recorder
	metrics *metrics.Metrics
}

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// newHarness builds a session over a two-product catalog. The cushion is
// 45x45 cm with a 100x100 image; the curtain 140x250 cm with a 70x125 image.
func newHarness(t *testing.T, remover bgremoval.Remover) *harness {
	t.Helper()
	store := imaging.NewStore()
	cat, err := catalog.New([]catalog.Product{
		{ID: "cushion", Name: "Cushion", Category: catalog.CategoryCushions, WidthCm: 45, HeightCm: 45,
			ImageRef: store.Put(solid(100, 100, color.NRGBA{200, 0, 0, 255}))},
		{ID: "curtain", Name: "Curtain", Category: catalog.CategoryCurtains, WidthCm: 140, HeightCm: 250,
			ImageRef: store.Put(solid(70, 125, color.NRGBA{0, 0, 200, 255}))},
	})
	require.NoError(t, err)

	h := &harness{store: store, notes: &notify.Recorder{}, metrics: metrics.New()}
	h.s, err = New(DefaultOptions(), Deps{
		Images:   store,
		Catalog:  cat,
		Remover:  remover,
		Notifier: h.notes,
		Metrics:  h.metrics,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.s.Close(ctx)
	})
	return h
}

func (h *harness) loadPhoto(t *testing.T) {
	t.Helper()
	_, err := h.s.LoadPhoto(h.store.Put(solid(1600, 1200, color.NRGBA{240, 240, 230, 255})))
	require.NoError(t, err)
}

// calibrate draws (100,100)->(100,300) and confirms 100 cm.
func (h *harness) calibrate(t *testing.T) float64 {
	t.Helper()
	require.NoError(t, h.s.BeginCalibrationLine(geometry.Pt(100, 100)))
	require.NoError(t, h.s.UpdateCalibrationLine(geometry.Pt(100, 300)))
	require.NoError(t, h.s.EndCalibrationLine())
	ppc, err := h.s.ConfirmCalibrationLength(100)
	require.NoError(t, err)
	return ppc
}

func (h *harness) place(t *testing.T, id string) overlay.Result {
	t.Helper()
	pending, err := h.s.PlaceProduct(context.Background(), id)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := pending.Wait(ctx)
	require.NoError(t, err)
	return res
}

func countOverlays(views []compositor.EntityView) int {
	n := 0
	for _, v := range views {
		if v.Kind == compositor.KindOverlay {
			n++
		}
	}
	return n
}

func TestNew_CanvasInitIsFatal(t *testing.T) {
	opts := DefaultOptions()
	opts.Canvas.Width = 0
	cat, err := catalog.New(nil)
	require.NoError(t, err)
	_, err = New(opts, Deps{Images: imaging.NewStore(), Catalog: cat})
	assert.ErrorIs(t, err, compositor.ErrCanvasInit)
}

func TestEndToEnd_CalibrateAndPlace(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	h.loadPhoto(t)

	ppc := h.calibrate(t)
	assert.InDelta(t, 2.0, ppc, 1e-9)

	res := h.place(t, "cushion")
	assert.Equal(t, overlay.OutcomeFallback, res.Outcome)

	o, ok := h.s.ActiveOverlay()
	require.True(t, ok)
	w, hgt := o.RenderedSize()
	assert.InDelta(t, 90, w, 1e-9)
	assert.InDelta(t, 90, hgt, 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Calibrations.WithLabelValues(calibrationMeasured)))

	views := h.s.Entities()
	require.NotEmpty(t, views)
	assert.Equal(t, compositor.KindBackground, views[0].Kind)
	assert.Equal(t, 1, countOverlays(views))
}

func TestPlaceProduct_SameProductTwiceLeavesOneOverlay(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	h.loadPhoto(t)
	h.calibrate(t)

	first := h.place(t, "cushion")
	second := h.place(t, "cushion")
	assert.Greater(t, second.Generation, first.Generation)
	assert.NotEqual(t, first.EntityID, second.EntityID)

	assert.Equal(t, 1, countOverlays(h.s.Entities()))
	o, _ := h.s.ActiveOverlay()
	assert.Equal(t, second.Generation, o.Generation)
}

func TestPlaceProduct_Errors(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	h.loadPhoto(t)

	_, err := h.s.PlaceProduct(context.Background(), "sofa")
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)

	h.notes.Drain()
	_, err = h.s.PlaceProduct(context.Background(), "cushion")
	assert.ErrorIs(t, err, overlay.ErrNotCalibrated)
	notes := h.notes.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.SeverityWarning, notes[0].Severity)
}

func TestCalibration_RequiresPhoto(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	assert.ErrorIs(t, h.s.BeginCalibrationLine(geometry.Pt(1, 1)), ErrNoPhoto)
	_, err := h.s.QuickEstimate(0)
	assert.ErrorIs(t, err, ErrNoPhoto)
	assert.ErrorIs(t, h.s.Export(&bytes.Buffer{}, compositor.FormatPNG), ErrNoPhoto)
}

func TestCalibration_GuideAndErrors(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	h.loadPhoto(t)

	require.NoError(t, h.s.BeginCalibrationLine(geometry.Pt(10, 10)))
	assert.True(t, hasKind(h.s.Entities(), compositor.KindCalibrationGuide))

	// A zero-length line goes back to Idle and removes the guide.
	h.notes.Drain()
	assert.ErrorIs(t, h.s.EndCalibrationLine(), calibration.ErrDegenerateLine)
	assert.Equal(t, calibration.Idle, h.s.CalibrationState().Phase)
	assert.False(t, hasKind(h.s.Entities(), compositor.KindCalibrationGuide))
	assert.Equal(t, notify.SeverityError, h.notes.Drain()[0].Severity)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Calibrations.WithLabelValues(calibrationDegenerate)))

	require.NoError(t, h.s.BeginCalibrationLine(geometry.Pt(10, 10)))
	require.NoError(t, h.s.UpdateCalibrationLine(geometry.Pt(10, 110)))
	require.NoError(t, h.s.EndCalibrationLine())

	for _, bad := range []float64{0, -5} {
		_, err := h.s.ConfirmCalibrationLength(bad)
		assert.ErrorIs(t, err, calibration.ErrInvalidLength)
		assert.Equal(t, calibration.AwaitingLength, h.s.CalibrationState().Phase)
	}

	h.s.ResetCalibration()
	assert.Equal(t, calibration.Idle, h.s.CalibrationState().Phase)
	assert.False(t, hasKind(h.s.Entities(), compositor.KindCalibrationGuide))
}

func TestQuickEstimate(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	h.loadPhoto(t)
	h.notes.Drain()

	st, err := h.s.QuickEstimate(0)
	require.NoError(t, err)
	assert.True(t, st.Estimated)
	assert.Equal(t, DefaultQuickPixelsPerCm, st.PixelsPerCm)
	assert.False(t, hasKind(h.s.Entities(), compositor.KindCalibrationGuide), "no line for an estimate")

	notes := h.notes.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.SeverityWarning, notes[0].Severity)

	_, err = h.s.QuickEstimate(-1)
	assert.ErrorIs(t, err, calibration.ErrInvalidScale)
}

func TestResetCalibration_KeepsOverlay(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	h.loadPhoto(t)
	h.calibrate(t)
	h.place(t, "cushion")

	h.s.ResetCalibration()
	_, ok := h.s.ActiveOverlay()
	assert.True(t, ok)

	_, err := h.s.PlaceProduct(context.Background(), "curtain")
	assert.ErrorIs(t, err, overlay.ErrNotCalibrated)
}

func TestSetOpacity_ExactValues(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	h.loadPhoto(t)
	assert.ErrorIs(t, h.s.SetOpacity(50), compositor.ErrNoActiveOverlay)

	h.calibrate(t)
	h.place(t, "cushion")
	for _, v := range []float64{0, 0.5, 10, 33.3, 80, 99.99, 100} {
		require.NoError(t, h.s.SetOpacity(v))
		o, _ := h.s.ActiveOverlay()
		assert.Equal(t, v, o.Opacity)
	}
}

func TestMask_ClipsActiveOverlay(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	h.loadPhoto(t)
	h.calibrate(t)
	h.place(t, "cushion")

	require.NoError(t, h.s.StartMask())
	for _, p := range []geometry.Point{{X: 100, Y: 100}, {X: 150, Y: 100}, {X: 150, Y: 150}} {
		require.NoError(t, h.s.AddMaskPoint(p))
	}
	state, pts := h.s.MaskState()
	assert.Equal(t, mask.Collecting, state)
	assert.Len(t, pts, 3)

	applied, err := h.s.FinishMask()
	require.NoError(t, err)
	assert.True(t, applied)
	o, _ := h.s.ActiveOverlay()
	require.NotNil(t, o.Clip)

	h.s.ResetMask()
	o, _ = h.s.ActiveOverlay()
	assert.Nil(t, o.Clip)
}

func TestMask_FinishWithTooFewPoints(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	h.loadPhoto(t)
	h.calibrate(t)
	h.place(t, "cushion")

	require.NoError(t, h.s.StartMask())
	require.NoError(t, h.s.AddMaskPoint(geometry.Pt(1, 1)))
	require.NoError(t, h.s.AddMaskPoint(geometry.Pt(2, 2)))

	applied, err := h.s.FinishMask()
	require.NoError(t, err)
	assert.False(t, applied)
	state, _ := h.s.MaskState()
	assert.Equal(t, mask.Idle, state)
	o, _ := h.s.ActiveOverlay()
	assert.Nil(t, o.Clip)
}

func TestPlaceProduct_AbandonsMaskInProgress(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	h.loadPhoto(t)
	h.calibrate(t)
	h.place(t, "cushion")

	require.NoError(t, h.s.StartMask())
	require.NoError(t, h.s.AddMaskPoint(geometry.Pt(1, 1)))
	h.place(t, "curtain")

	state, pts := h.s.MaskState()
	assert.Equal(t, mask.Idle, state)
	assert.Empty(t, pts)
	assert.False(t, hasKind(h.s.Entities(), compositor.KindMaskGuide))
}

func TestUndoRedo(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	h.loadPhoto(t)
	h.calibrate(t)

	_, err := h.s.Undo()
	assert.ErrorIs(t, err, ErrNothingToUndo)

	h.place(t, "cushion")
	require.NoError(t, h.s.SetOpacity(40))
	h.place(t, "curtain")

	o, _ := h.s.ActiveOverlay()
	assert.Equal(t, "curtain", o.ProductID)
	assert.True(t, h.s.Status().CanUndo)

	_, err = h.s.Undo()
	require.NoError(t, err)
	o, ok := h.s.ActiveOverlay()
	require.True(t, ok)
	assert.Equal(t, "cushion", o.ProductID)
	assert.Equal(t, 40.0, o.Opacity)

	_, err = h.s.Undo()
	require.NoError(t, err)
	o, _ = h.s.ActiveOverlay()
	assert.Equal(t, 80.0, o.Opacity)

	_, err = h.s.Undo()
	require.NoError(t, err)
	_, ok = h.s.ActiveOverlay()
	assert.False(t, ok, "initial state has no overlay")
	_, err = h.s.Undo()
	assert.ErrorIs(t, err, ErrNothingToUndo)

	_, err = h.s.Redo()
	require.NoError(t, err)
	o, _ = h.s.ActiveOverlay()
	assert.Equal(t, "cushion", o.ProductID)

	// A new change drops the redo branch.
	require.NoError(t, h.s.SetOpacity(60))
	_, err = h.s.Redo()
	assert.ErrorIs(t, err, ErrNothingToRedo)
	assert.Equal(t, 1, countOverlays(h.s.Entities()))
}

func TestUndo_SupersedesInFlightPlacement(t *testing.T) {
	release := make(chan struct{})
	var slowRef string
	remover := bgremoval.Func(func(ctx context.Context, ref string) (string, error) {
		if ref == slowRef {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return "", bgremoval.ErrRemovalFailed
	})
	h := newHarness(t, remover)
	curtain, err := h.s.Catalog().Get("curtain")
	require.NoError(t, err)
	slowRef = curtain.ImageRef

	h.loadPhoto(t)
	h.calibrate(t)
	h.place(t, "cushion")

	pending, err := h.s.PlaceProduct(context.Background(), "curtain")
	require.NoError(t, err)
	_, ok := h.s.ActiveOverlay()
	assert.False(t, ok, "prior overlay detached immediately")

	// Undo cancels the in-flight placement and brings the cushion back.
	_, err = h.s.Undo()
	require.NoError(t, err)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = pending.Wait(ctx)
	assert.ErrorIs(t, err, overlay.ErrStalePlacement)

	o, ok := h.s.ActiveOverlay()
	require.True(t, ok)
	assert.Equal(t, "cushion", o.ProductID)
	assert.Equal(t, 1, countOverlays(h.s.Entities()))

	// The history itself did not move.
	_, err = h.s.Undo()
	require.NoError(t, err)
	_, ok = h.s.ActiveOverlay()
	assert.False(t, ok)
}

func TestStatus_OverlayCornersAndHitTest(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	h.loadPhoto(t)
	h.calibrate(t)
	res := h.place(t, "cushion")

	st := h.s.Status()
	assert.Equal(t, res.EntityID, st.OverlayID)
	// 45 cm at 2 px/cm from the (100,100) anchor.
	want := []geometry.Point{{X: 100, Y: 100}, {X: 190, Y: 100}, {X: 190, Y: 190}, {X: 100, Y: 190}}
	require.Len(t, st.Corners, len(want))
	for i, c := range want {
		assert.InDelta(t, c.X, st.Corners[i].X, 1e-9)
		assert.InDelta(t, c.Y, st.Corners[i].Y, 1e-9)
	}

	hit, ok := h.s.HitTest(geometry.Pt(150, 150))
	require.True(t, ok)
	assert.Equal(t, res.EntityID, hit.ID)
	assert.Equal(t, compositor.KindOverlay, hit.Kind)

	_, ok = h.s.HitTest(geometry.Pt(500, 500))
	assert.False(t, ok, "the background never receives hits")
}

func TestPhotoInfo(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	_, err := h.s.PhotoInfo()
	assert.ErrorIs(t, err, ErrNoPhoto)

	h.loadPhoto(t)
	info, err := h.s.PhotoInfo()
	require.NoError(t, err)
	assert.Equal(t, 1600, info.Width)
	assert.Equal(t, 1200, info.Height)
	assert.Equal(t, "memory", info.Format)
}

func TestLoadPhoto_ResetsSession(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	h.loadPhoto(t)
	h.calibrate(t)
	h.place(t, "cushion")

	h.loadPhoto(t)
	st := h.s.Status()
	assert.True(t, st.HasPhoto)
	assert.Equal(t, "idle", st.Phase)
	assert.Nil(t, st.Overlay)
	assert.False(t, st.CanUndo)
	assert.InDelta(t, 0.5, st.Background.Scale, 1e-9)
}

func TestLoadPhotoData(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(40, 30, color.White)))

	bg, err := h.s.LoadPhotoData(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 40, bg.NativeSize.Width)

	h.notes.Drain()
	_, err = h.s.LoadPhotoData([]byte("not an image"))
	assert.Error(t, err)
	notes := h.notes.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, "Invalid file type", notes[0].Title)
}

func TestExport(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	h.loadPhoto(t)
	h.calibrate(t)
	h.place(t, "cushion")

	var buf bytes.Buffer
	require.NoError(t, h.s.Export(&buf, compositor.FormatPNG))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 800, 600), img.Bounds())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Exports.WithLabelValues("png")))
}

func TestReset(t *testing.T) {
	h := newHarness(t, bgremoval.Disabled{})
	h.loadPhoto(t)
	h.calibrate(t)
	h.place(t, "cushion")

	h.s.Reset()
	st := h.s.Status()
	assert.False(t, st.HasPhoto)
	assert.Nil(t, st.Overlay)
	assert.Nil(t, st.Background)
	assert.Empty(t, h.s.Entities())
}

func hasKind(views []compositor.EntityView, k compositor.Kind) bool {
	for _, v := range views {
		if v.Kind == k {
			return true
		}
	}
	return false
}
