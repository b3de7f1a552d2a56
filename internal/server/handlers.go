package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/ironsheep/room-overlay-mcp/internal/catalog"
	"github.com/ironsheep/room-overlay-mcp/internal/compositor"
	"github.com/ironsheep/room-overlay-mcp/internal/geometry"
	"github.com/ironsheep/room-overlay-mcp/internal/imaging"
	"github.com/ironsheep/room-overlay-mcp/internal/notify"
	"github.com/ironsheep/room-overlay-mcp/internal/overlay"
	"github.com/ironsheep/room-overlay-mcp/internal/session"
)

// errInvalidArgs marks argument errors, reported as JSON-RPC invalid params.
var errInvalidArgs = errors.New("invalid arguments")

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "overlay_place").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the JSON document returned in a tool's text content. It
// carries the notifications the session emitted since the previous call,
// including those of placements that settled in the background.
type ToolResult struct {
	Result        interface{}           `json:"result"`
	Notifications []notify.Notification `json:"notifications,omitempty"`
}

// ToolError is the data of a failed tool call.
type ToolError struct {
	Error         string                `json:"error"`
	Notifications []notify.Notification `json:"notifications,omitempty"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON ToolResult>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000;
// malformed arguments and unknown tools return -32602.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, CodeInvalidParams, "Invalid params", err.Error())
	}

	s.callMu.Lock()
	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	notes := s.notes.Drain()
	s.callMu.Unlock()
	if err != nil {
		s.logger.Debug("tool failed", "tool", params.Name, "error", err)
		data := ToolError{Error: err.Error(), Notifications: notes}
		if errors.Is(err, errInvalidArgs) {
			return s.errorResponse(req.ID, CodeInvalidParams, "Invalid params", data)
		}
		return s.errorResponse(req.ID, CodeToolFailed, "Tool execution failed", data)
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(ToolResult{Result: result, Notifications: notes}),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Session
	case "session_load_photo":
		return s.handleLoadPhoto(args)
	case "session_status":
		return s.session.Status(), nil
	case "session_reset":
		s.session.Reset()
		return s.session.Status(), nil
	case "session_export":
		return s.handleExport(args)

	// Calibration
	case "calibration_begin":
		return s.handlePoint(args, s.session.BeginCalibrationLine)
	case "calibration_update":
		return s.handlePoint(args, s.session.UpdateCalibrationLine)
	case "calibration_end":
		if err := s.session.EndCalibrationLine(); err != nil {
			return nil, err
		}
		return s.session.CalibrationState(), nil
	case "calibration_confirm_length":
		return s.handleConfirmLength(args)
	case "calibration_quick_estimate":
		return s.handleQuickEstimate(args)
	case "calibration_reset":
		s.session.ResetCalibration()
		return s.session.CalibrationState(), nil

	// Catalog
	case "catalog_list":
		return s.handleCatalogList(args)

	// Overlay
	case "overlay_place":
		return s.handlePlace(ctx, args)
	case "overlay_set_opacity":
		return s.handleSetOpacity(args)
	case "overlay_move":
		return s.handleMove(args)
	case "overlay_resize":
		return s.handleResize(args)
	case "overlay_rotate":
		return s.handleRotate(args)
	case "overlay_aspect_lock":
		return s.handleAspectLock(args)

	// Mask
	case "mask_start":
		if err := s.session.StartMask(); err != nil {
			return nil, err
		}
		return s.maskStatus(), nil
	case "mask_add_point":
		return s.handleMaskPoint(args)
	case "mask_undo":
		if _, err := s.session.UndoMaskPoint(); err != nil {
			return nil, err
		}
		return s.maskStatus(), nil
	case "mask_finish":
		applied, err := s.session.FinishMask()
		if err != nil {
			return nil, err
		}
		st := s.maskStatus()
		st.Applied = applied
		return st, nil
	case "mask_reset":
		s.session.ResetMask()
		return s.maskStatus(), nil

	// History
	case "history_undo":
		return s.session.Undo()
	case "history_redo":
		return s.session.Redo()

	// Scene inspection
	case "scene_entities":
		return s.session.Entities(), nil
	case "scene_measure":
		return s.handleMeasure(args)
	case "scene_hit_test":
		return s.handleHitTest(args)
	case "scene_sample_color":
		return s.handleSampleColor(args)
	case "scene_palette":
		return s.handlePalette(args)
	case "scene_zoom":
		return s.handleZoom(args)
	case "scene_grid":
		return s.handleGrid(args)

	default:
		return nil, fmt.Errorf("%w: unknown tool: %s", errInvalidArgs, name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// decodeArgs unmarshals tool arguments. Missing arguments decode as {}.
func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidArgs, err)
	}
	return nil
}

// === Session Handlers ===

type loadPhotoArgs struct {
	Path       string `json:"path"`
	DataBase64 string `json:"data_base64"`
}

// loadPhotoResult keeps the background fields at the top level.
type loadPhotoResult struct {
	compositor.Background
	Info *imaging.Info `json:"info"`
}

func (s *Server) handleLoadPhoto(args json.RawMessage) (interface{}, error) {
	var a loadPhotoArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	var (
		bg  compositor.Background
		err error
	)
	switch {
	case a.Path != "":
		bg, err = s.session.LoadPhoto(a.Path)
	case a.DataBase64 != "":
		data, decErr := base64.StdEncoding.DecodeString(a.DataBase64)
		if decErr != nil {
			return nil, fmt.Errorf("%w: data_base64: %v", errInvalidArgs, decErr)
		}
		bg, err = s.session.LoadPhotoData(data)
	default:
		return nil, fmt.Errorf("%w: path or data_base64 is required", errInvalidArgs)
	}
	if err != nil {
		return nil, err
	}
	info, err := s.session.PhotoInfo()
	if err != nil {
		return nil, err
	}
	return loadPhotoResult{Background: bg, Info: info}, nil
}

type exportArgs struct {
	Path   string `json:"path"`
	Format string `json:"format"`
}

type exportResult struct {
	Path        string `json:"path,omitempty"`
	Filename    string `json:"filename"`
	Bytes       int    `json:"bytes"`
	MimeType    string `json:"mime_type"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

func (s *Server) handleExport(args json.RawMessage) (interface{}, error) {
	var a exportArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	format, err := compositor.ParseFormat(a.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidArgs, err)
	}

	var buf bytes.Buffer
	if err := s.session.Export(&buf, format); err != nil {
		return nil, err
	}
	res := exportResult{Filename: exportName(format), Bytes: buf.Len(), MimeType: format.MimeType()}

	if a.Path == "" {
		res.ImageBase64 = base64.StdEncoding.EncodeToString(buf.Bytes())
		return res, nil
	}

	path := a.Path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, res.Filename)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write export: %w", err)
	}
	res.Path = path
	return res, nil
}

// exportName is the default file name for f.
func exportName(f compositor.Format) string {
	if f == compositor.FormatJPEG {
		return strings.TrimSuffix(session.DefaultExportName, filepath.Ext(session.DefaultExportName)) + ".jpg"
	}
	return session.DefaultExportName
}

// === Calibration Handlers ===

type pointArgs struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

func (a pointArgs) point() (geometry.Point, error) {
	if a.X == nil || a.Y == nil {
		return geometry.Point{}, fmt.Errorf("%w: x and y are required", errInvalidArgs)
	}
	return geometry.Pt(*a.X, *a.Y), nil
}

func (s *Server) handlePoint(args json.RawMessage, fn func(geometry.Point) error) (interface{}, error) {
	var a pointArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	p, err := a.point()
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	return s.session.CalibrationState(), nil
}

type confirmLengthArgs struct {
	LengthCm float64 `json:"length_cm"`
}

func (s *Server) handleConfirmLength(args json.RawMessage) (interface{}, error) {
	var a confirmLengthArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if _, err := s.session.ConfirmCalibrationLength(a.LengthCm); err != nil {
		return nil, err
	}
	return s.session.CalibrationState(), nil
}

type quickEstimateArgs struct {
	PixelsPerCm float64 `json:"pixels_per_cm"`
}

func (s *Server) handleQuickEstimate(args json.RawMessage) (interface{}, error) {
	var a quickEstimateArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return s.session.QuickEstimate(a.PixelsPerCm)
}

// === Catalog Handlers ===

type catalogListArgs struct {
	Category string `json:"category"`
}

type catalogListResult struct {
	Categories []catalog.Category `json:"categories"`
	Products   []catalog.Product  `json:"products"`
}

func (s *Server) handleCatalogList(args json.RawMessage) (interface{}, error) {
	var a catalogListArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	cat := s.session.Catalog()
	res := catalogListResult{Categories: cat.Categories()}
	if a.Category == "" {
		res.Products = cat.All()
	} else {
		res.Products = cat.ByCategory(catalog.Category(a.Category))
	}
	if res.Products == nil {
		res.Products = []catalog.Product{}
	}
	return res, nil
}

// === Overlay Handlers ===

type placeArgs struct {
	ProductID string `json:"product_id"`
	Wait      *bool  `json:"wait"`
}

type placeResult struct {
	overlay.Result
	Error string `json:"error,omitempty"`
}

func (s *Server) handlePlace(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a placeArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.ProductID == "" {
		return nil, fmt.Errorf("%w: product_id is required", errInvalidArgs)
	}

	pending, err := s.session.PlaceProduct(ctx, a.ProductID)
	if err != nil {
		return nil, err
	}
	if a.Wait != nil && !*a.Wait {
		return placeResult{Result: overlay.Result{Request: pending.Request, Outcome: overlay.OutcomePending}}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.placeTimeout)
	defer cancel()
	res, _ := pending.Wait(waitCtx)
	// A pending outcome means the wait ended first; the real outcome arrives
	// with a later call's notifications.
	out := placeResult{Result: res}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out, nil
}

type opacityArgs struct {
	Opacity *float64 `json:"opacity"`
}

func (s *Server) handleSetOpacity(args json.RawMessage) (interface{}, error) {
	var a opacityArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Opacity == nil {
		return nil, fmt.Errorf("%w: opacity is required", errInvalidArgs)
	}
	if err := s.session.SetOpacity(*a.Opacity); err != nil {
		return nil, err
	}
	return s.activeOverlay()
}

type moveArgs struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

func (s *Server) handleMove(args json.RawMessage) (interface{}, error) {
	var a moveArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := s.session.MoveOverlay(a.DX, a.DY); err != nil {
		return nil, err
	}
	return s.activeOverlay()
}

type resizeArgs struct {
	ScaleX float64 `json:"scale_x"`
	ScaleY float64 `json:"scale_y"`
}

func (s *Server) handleResize(args json.RawMessage) (interface{}, error) {
	var a resizeArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := s.session.ResizeOverlay(a.ScaleX, a.ScaleY); err != nil {
		return nil, err
	}
	return s.activeOverlay()
}

type rotateArgs struct {
	Degrees float64 `json:"degrees"`
}

func (s *Server) handleRotate(args json.RawMessage) (interface{}, error) {
	var a rotateArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := s.session.RotateOverlay(a.Degrees); err != nil {
		return nil, err
	}
	return s.activeOverlay()
}

type aspectLockArgs struct {
	Locked bool `json:"locked"`
}

func (s *Server) handleAspectLock(args json.RawMessage) (interface{}, error) {
	var a aspectLockArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := s.session.SetAspectLock(a.Locked); err != nil {
		return nil, err
	}
	return s.activeOverlay()
}

func (s *Server) activeOverlay() (interface{}, error) {
	o, ok := s.session.ActiveOverlay()
	if !ok {
		return nil, compositor.ErrNoActiveOverlay
	}
	return o, nil
}

// === Mask Handlers ===

type maskStatus struct {
	State   string           `json:"state"`
	Points  []geometry.Point `json:"points"`
	Applied bool             `json:"applied,omitempty"`
}

func (s *Server) maskStatus() maskStatus {
	st, pts := s.session.MaskState()
	if pts == nil {
		pts = []geometry.Point{}
	}
	return maskStatus{State: st.String(), Points: pts}
}

func (s *Server) handleMaskPoint(args json.RawMessage) (interface{}, error) {
	var a pointArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	p, err := a.point()
	if err != nil {
		return nil, err
	}
	if err := s.session.AddMaskPoint(p); err != nil {
		return nil, err
	}
	return s.maskStatus(), nil
}

// === Scene Inspection Handlers ===

type measureArgs struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (s *Server) handleMeasure(args json.RawMessage) (interface{}, error) {
	var a measureArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return s.session.Measure(geometry.Pt(a.X1, a.Y1), geometry.Pt(a.X2, a.Y2))
}

type hitTestResult struct {
	Hit    bool                   `json:"hit"`
	Entity *compositor.EntityView `json:"entity,omitempty"`
}

func (s *Server) handleHitTest(args json.RawMessage) (interface{}, error) {
	var a pointArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	p, err := a.point()
	if err != nil {
		return nil, err
	}
	view, ok := s.session.HitTest(p)
	if !ok {
		return hitTestResult{}, nil
	}
	return hitTestResult{Hit: true, Entity: &view}, nil
}

func (s *Server) handleSampleColor(args json.RawMessage) (interface{}, error) {
	var a pointArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	p, err := a.point()
	if err != nil {
		return nil, err
	}
	return s.session.SampleColor(p)
}

type regionArgs struct {
	X1     int     `json:"x1"`
	Y1     int     `json:"y1"`
	X2     int     `json:"x2"`
	Y2     int     `json:"y2"`
	Region string  `json:"region"`
	Count  int     `json:"count"`
	Scale  float64 `json:"scale"`
}

// rect resolves the named region or the coordinates. Both empty yields the
// zero rectangle.
func (a regionArgs) rect(s *Server) (image.Rectangle, error) {
	if a.Region != "" {
		w, h := s.session.CanvasSize()
		r, err := imaging.NamedRegion(a.Region, w, h)
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("%w: %v", errInvalidArgs, err)
		}
		return r, nil
	}
	return image.Rect(a.X1, a.Y1, a.X2, a.Y2), nil
}

type paletteResult struct {
	Colors []imaging.Swatch `json:"colors"`
}

func (s *Server) handlePalette(args json.RawMessage) (interface{}, error) {
	var a regionArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Count == 0 {
		a.Count = 5
	}
	r, err := a.rect(s)
	if err != nil {
		return nil, err
	}
	colors, err := s.session.Palette(a.Count, r)
	if err != nil {
		return nil, err
	}
	if colors == nil {
		colors = []imaging.Swatch{}
	}
	return paletteResult{Colors: colors}, nil
}

func (s *Server) handleZoom(args json.RawMessage) (interface{}, error) {
	var a regionArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	r, err := a.rect(s)
	if err != nil {
		return nil, err
	}
	if r.Empty() {
		return nil, fmt.Errorf("%w: a region or x1,y1,x2,y2 is required", errInvalidArgs)
	}
	img, err := s.session.Zoom(r, a.Scale)
	if err != nil {
		return nil, err
	}
	return imaging.EncodePNG(img)
}

type gridArgs struct {
	CmPerLine float64 `json:"cm_per_line"`
}

func (s *Server) handleGrid(args json.RawMessage) (interface{}, error) {
	var a gridArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.CmPerLine == 0 {
		a.CmPerLine = 10
	}
	img, err := s.session.Grid(a.CmPerLine)
	if err != nil {
		return nil, err
	}
	return imaging.EncodePNG(img)
}
