package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/ironsheep/room-overlay-mcp/internal/catalog"
)

// toolPayload mirrors ToolResult with the result left raw.
type toolPayload struct {
	Result        json.RawMessage `json:"result"`
	Notifications []struct {
		Title    string `json:"title"`
		Severity string `json:"severity"`
	} `json:"notifications"`
}

func (p toolPayload) hasNote(title string) bool {
	for _, n := range p.Notifications {
		if n.Title == title {
			return true
		}
	}
	return false
}

// callTool invokes a tool through tools/call and decodes the text content.
// A JSON-RPC error is returned as is.
func callTool(t *testing.T, s *Server, name string, args interface{}) (toolPayload, *MCPError) {
	t.Helper()
	params := map[string]interface{}{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}

	resp := s.handleRequest(context.Background(), &MCPRequest{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: raw})
	return decodeToolResponse(t, name, resp)
}

// decodeToolResponse unpacks a tools/call response.
func decodeToolResponse(t *testing.T, name string, resp *MCPResponse) (toolPayload, *MCPError) {
	t.Helper()
	if resp == nil {
		t.Fatalf("%s: nil response", name)
	}
	if resp.Error != nil {
		return toolPayload{}, resp.Error
	}

	content := resp.Result.(map[string]interface{})["content"].([]map[string]interface{})
	if len(content) != 1 || content[0]["type"] != "text" {
		t.Fatalf("%s: unexpected content %v", name, content)
	}
	var payload toolPayload
	if err := json.Unmarshal([]byte(content[0]["text"].(string)), &payload); err != nil {
		t.Fatalf("%s: decode result: %v", name, err)
	}
	return payload, nil
}

// mustCall fails the test on a JSON-RPC error and decodes the result into out.
func mustCall(t *testing.T, s *Server, name string, args interface{}, out interface{}) toolPayload {
	t.Helper()
	payload, rpcErr := callTool(t, s, name, args)
	if rpcErr != nil {
		t.Fatalf("%s failed: %d %s %+v", name, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}
	if out != nil {
		if err := json.Unmarshal(payload.Result, out); err != nil {
			t.Fatalf("%s: decode %s: %v", name, payload.Result, err)
		}
	}
	return payload
}

func pt(x, y float64) map[string]float64 {
	return map[string]float64{"x": x, "y": y}
}

// loadAndCalibrate loads a 400x300 grey photo and calibrates 100 px as 50 cm.
func loadAndCalibrate(t *testing.T, s *Server) {
	t.Helper()
	path := createTestImageFile(t, 400, 300, color.NRGBA{128, 128, 128, 255})
	payload := mustCall(t, s, "session_load_photo", map[string]string{"path": path}, nil)
	if !payload.hasNote("Photo loaded") {
		t.Errorf("load: notifications %+v", payload.Notifications)
	}

	mustCall(t, s, "calibration_begin", pt(100, 100), nil)
	mustCall(t, s, "calibration_update", pt(200, 100), nil)
	mustCall(t, s, "calibration_end", nil, nil)

	var state struct {
		Phase       string  `json:"phase"`
		PixelsPerCm float64 `json:"pixels_per_cm"`
	}
	payload = mustCall(t, s, "calibration_confirm_length", map[string]float64{"length_cm": 50}, &state)
	if state.Phase != "calibrated" || state.PixelsPerCm != 2 {
		t.Fatalf("calibration: got %+v", state)
	}
	if !payload.hasNote("Calibration complete") {
		t.Errorf("confirm: notifications %+v", payload.Notifications)
	}
}

type placed struct {
	Outcome string `json:"outcome"`
	Overlay *struct {
		ProductID  string  `json:"product_id"`
		Opacity    float64 `json:"opacity"`
		IsFallback bool    `json:"is_fallback"`
		Clip       *struct {
			Points []struct{ X, Y float64 } `json:"points"`
		} `json:"clip"`
	} `json:"overlay"`
	Error string `json:"error"`
}

func TestPlaceBeforeCalibration(t *testing.T) {
	s := newTestServer(t)
	path := createTestImageFile(t, 400, 300, color.White)
	mustCall(t, s, "session_load_photo", map[string]string{"path": path}, nil)

	_, rpcErr := callTool(t, s, "overlay_place", map[string]string{"product_id": "cushion"})
	if rpcErr == nil {
		t.Fatal("placing before calibration should fail")
	}
	if rpcErr.Code != CodeToolFailed {
		t.Errorf("Code: got %d, want %d", rpcErr.Code, CodeToolFailed)
	}
	data, ok := rpcErr.Data.(ToolError)
	if !ok {
		t.Fatalf("Data: got %T, want ToolError", rpcErr.Data)
	}
	found := false
	for _, n := range data.Notifications {
		if n.Title == "Calibrate first" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a calibrate-first notification, got %+v", data.Notifications)
	}
}

func TestPlaceAndAdjust(t *testing.T) {
	s := newTestServer(t)
	loadAndCalibrate(t, s)

	var res placed
	payload := mustCall(t, s, "overlay_place", map[string]string{"product_id": "cushion"}, &res)
	// The test session has no remover, so the original image is used.
	if res.Outcome != "fallback" {
		t.Fatalf("Outcome: got %q (error %q), want fallback", res.Outcome, res.Error)
	}
	if res.Overlay == nil || res.Overlay.ProductID != "cushion" || !res.Overlay.IsFallback {
		t.Fatalf("Overlay: got %+v", res.Overlay)
	}
	if res.Overlay.Opacity != 80 {
		t.Errorf("Opacity: got %v, want 80", res.Overlay.Opacity)
	}
	if !payload.hasNote("Background removal failed") {
		t.Errorf("place: notifications %+v", payload.Notifications)
	}

	var o struct {
		Opacity float64 `json:"opacity"`
	}
	mustCall(t, s, "overlay_set_opacity", map[string]float64{"opacity": 40}, &o)
	if o.Opacity != 40 {
		t.Errorf("Opacity after set: got %v, want 40", o.Opacity)
	}

	if _, rpcErr := callTool(t, s, "overlay_set_opacity", map[string]float64{"opacity": 140}); rpcErr == nil || rpcErr.Code != CodeToolFailed {
		t.Errorf("out of range opacity: got %+v", rpcErr)
	}

	var snap struct {
		Label   string `json:"label"`
		Overlay *struct {
			Opacity float64 `json:"opacity"`
		} `json:"overlay"`
	}
	mustCall(t, s, "history_undo", nil, &snap)
	if snap.Overlay == nil || snap.Overlay.Opacity != 80 {
		t.Errorf("undo: got %+v", snap)
	}
	mustCall(t, s, "history_redo", nil, &snap)
	if snap.Overlay == nil || snap.Overlay.Opacity != 40 {
		t.Errorf("redo: got %+v", snap)
	}

	var status struct {
		HasPhoto  bool                     `json:"has_photo"`
		Phase     string                   `json:"calibration_phase"`
		CanUndo   bool                     `json:"can_undo"`
		OverlayID string                   `json:"overlay_id"`
		Corners   []struct{ X, Y float64 } `json:"overlay_corners"`
	}
	mustCall(t, s, "session_status", nil, &status)
	if !status.HasPhoto || status.Phase != "calibrated" || !status.CanUndo {
		t.Errorf("status: got %+v", status)
	}
	if status.OverlayID == "" || len(status.Corners) != 4 {
		t.Errorf("status overlay: got id %q corners %+v", status.OverlayID, status.Corners)
	}

	// The 45 cm cushion covers (100,100)-(190,190) at 2 px/cm.
	var hit struct {
		Hit    bool `json:"hit"`
		Entity *struct {
			ID   string `json:"id"`
			Kind string `json:"kind"`
		} `json:"entity"`
	}
	mustCall(t, s, "scene_hit_test", pt(150, 150), &hit)
	if !hit.Hit || hit.Entity == nil || hit.Entity.Kind != "overlay" || hit.Entity.ID != status.OverlayID {
		t.Errorf("hit inside overlay: got %+v", hit)
	}
	hit.Hit, hit.Entity = false, nil
	mustCall(t, s, "scene_hit_test", pt(700, 500), &hit)
	if hit.Hit || hit.Entity != nil {
		t.Errorf("hit on background: got %+v", hit)
	}
	if _, rpcErr := callTool(t, s, "scene_hit_test", map[string]float64{"x": 1}); rpcErr == nil || rpcErr.Code != CodeInvalidParams {
		t.Errorf("hit test without y: got %+v", rpcErr)
	}

	var entities []struct {
		Kind string `json:"kind"`
	}
	mustCall(t, s, "scene_entities", nil, &entities)
	kinds := map[string]bool{}
	for _, e := range entities {
		kinds[e.Kind] = true
	}
	if !kinds["background"] || !kinds["overlay"] {
		t.Errorf("entities: got %+v", entities)
	}
}

func TestPlaceFailedOutcome(t *testing.T) {
	s := newTestServerWith(t, catalog.Product{
		ID: "ghost", Name: "Ghost", Category: catalog.CategoryCushions, WidthCm: 40, HeightCm: 40,
		ImageRef: filepath.Join(t.TempDir(), "ghost.png"),
	})
	path := createTestImageFile(t, 400, 300, color.White)
	mustCall(t, s, "session_load_photo", map[string]string{"path": path}, nil)
	mustCall(t, s, "calibration_quick_estimate", nil, nil)

	var res placed
	payload := mustCall(t, s, "overlay_place", map[string]string{"product_id": "ghost"}, &res)
	if res.Outcome != "failed" {
		t.Errorf("Outcome: got %q, want failed", res.Outcome)
	}
	if res.Error == "" {
		t.Error("a failed placement should report its error")
	}
	if res.Overlay != nil {
		t.Errorf("nothing should be attached, got %+v", res.Overlay)
	}
	if !payload.hasNote("Could not place product") {
		t.Errorf("notifications %+v", payload.Notifications)
	}
}

func TestPlaceWithoutWaiting(t *testing.T) {
	s := newTestServer(t)
	loadAndCalibrate(t, s)

	var res placed
	mustCall(t, s, "overlay_place", map[string]interface{}{"product_id": "curtain", "wait": false}, &res)
	if res.Outcome != "pending" {
		t.Errorf("Outcome: got %q, want pending", res.Outcome)
	}
}

func TestMaskFlow(t *testing.T) {
	s := newTestServer(t)
	loadAndCalibrate(t, s)
	mustCall(t, s, "overlay_place", map[string]string{"product_id": "cushion"}, nil)

	var st struct {
		State   string `json:"state"`
		Points  []struct{ X, Y float64 }
		Applied bool `json:"applied"`
	}
	mustCall(t, s, "mask_start", nil, &st)
	if st.State != "collecting" {
		t.Fatalf("mask_start: got %+v", st)
	}
	for _, p := range [][2]float64{{300, 200}, {420, 200}, {420, 320}, {999, 999}} {
		mustCall(t, s, "mask_add_point", pt(p[0], p[1]), &st)
	}
	mustCall(t, s, "mask_undo", nil, &st)
	if len(st.Points) != 3 {
		t.Fatalf("points after undo: got %d, want 3", len(st.Points))
	}

	payload := mustCall(t, s, "mask_finish", nil, &st)
	if !st.Applied || st.State != "applied" {
		t.Errorf("mask_finish: got %+v", st)
	}
	if !payload.hasNote("Mask applied") {
		t.Errorf("finish: notifications %+v", payload.Notifications)
	}

	var status struct {
		Overlay *struct {
			Clip *struct{} `json:"clip"`
		} `json:"overlay"`
	}
	mustCall(t, s, "session_status", nil, &status)
	if status.Overlay == nil || status.Overlay.Clip == nil {
		t.Errorf("overlay should be clipped: %+v", status.Overlay)
	}

	mustCall(t, s, "mask_reset", nil, &st)
	mustCall(t, s, "session_status", nil, &status)
	if status.Overlay == nil || status.Overlay.Clip != nil {
		t.Errorf("clip should be removed: %+v", status.Overlay)
	}
}

func TestMaskFinishTooFewPoints(t *testing.T) {
	s := newTestServer(t)
	mustCall(t, s, "mask_start", nil, nil)
	mustCall(t, s, "mask_add_point", pt(1, 1), nil)

	var st struct {
		State   string `json:"state"`
		Applied bool   `json:"applied"`
	}
	payload := mustCall(t, s, "mask_finish", nil, &st)
	if st.Applied || st.State != "idle" {
		t.Errorf("mask_finish: got %+v", st)
	}
	if !payload.hasNote("Mask discarded") {
		t.Errorf("notifications %+v", payload.Notifications)
	}
}

func TestExport(t *testing.T) {
	s := newTestServer(t)

	if _, rpcErr := callTool(t, s, "session_export", nil); rpcErr == nil || rpcErr.Code != CodeToolFailed {
		t.Fatalf("export without a photo: got %+v", rpcErr)
	}

	loadAndCalibrate(t, s)

	var res exportResult
	payload := mustCall(t, s, "session_export", nil, &res)
	if res.MimeType != "image/png" || res.Filename != "room-visualization.png" {
		t.Errorf("export: got %+v", res)
	}
	if !payload.hasNote("Downloaded") {
		t.Errorf("notifications %+v", payload.Notifications)
	}
	data, err := base64.StdEncoding.DecodeString(res.ImageBase64)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 800 || b.Dy() != 600 {
		t.Errorf("export size: got %dx%d, want 800x600", b.Dx(), b.Dy())
	}

	dir := t.TempDir()
	mustCall(t, s, "session_export", map[string]string{"path": dir, "format": "jpeg"}, &res)
	want := filepath.Join(dir, "room-visualization.jpg")
	if res.Path != want || res.ImageBase64 != "" {
		t.Errorf("export to dir: got %+v", res)
	}
	if info, err := os.Stat(want); err != nil || info.Size() != int64(res.Bytes) {
		t.Errorf("exported file: %v, %v", info, err)
	}

	if _, rpcErr := callTool(t, s, "session_export", map[string]string{"format": "gif"}); rpcErr == nil || rpcErr.Code != CodeInvalidParams {
		t.Errorf("bad format: got %+v", rpcErr)
	}
}

func TestCatalogList(t *testing.T) {
	s := newTestServer(t)

	var all catalogListResult
	mustCall(t, s, "catalog_list", nil, &all)
	if len(all.Products) != 2 || len(all.Categories) != 2 {
		t.Errorf("catalog_list: got %+v", all)
	}

	var cushions catalogListResult
	mustCall(t, s, "catalog_list", map[string]string{"category": "cushions"}, &cushions)
	if len(cushions.Products) != 1 || cushions.Products[0].ID != "cushion" {
		t.Errorf("cushions: got %+v", cushions.Products)
	}

	var none catalogListResult
	mustCall(t, s, "catalog_list", map[string]string{"category": "sofa-covers"}, &none)
	if none.Products == nil || len(none.Products) != 0 {
		t.Errorf("sofa-covers: got %#v", none.Products)
	}
}

func TestInvalidArguments(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		tool string
		args interface{}
	}{
		{"unknown tool", "nonexistent_tool", nil},
		{"missing point", "calibration_begin", map[string]float64{"x": 1}},
		{"wrong type", "calibration_confirm_length", map[string]string{"length_cm": "fifty"}},
		{"missing photo source", "session_load_photo", map[string]string{}},
		{"bad base64", "session_load_photo", map[string]string{"data_base64": "***"}},
		{"missing product", "overlay_place", map[string]string{}},
		{"missing opacity", "overlay_set_opacity", map[string]string{}},
		{"unknown region", "scene_zoom", map[string]string{"region": "middle-ish"}},
		{"empty zoom", "scene_zoom", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rpcErr := callTool(t, s, tt.tool, tt.args)
			if rpcErr == nil {
				t.Fatal("expected an error")
			}
			if rpcErr.Code != CodeInvalidParams {
				t.Errorf("Code: got %d, want %d (%+v)", rpcErr.Code, CodeInvalidParams, rpcErr.Data)
			}
		})
	}
}

func TestToolsCall_InvalidParams(t *testing.T) {
	s := newTestServer(t)
	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: json.RawMessage(`"not an object"`),
	})
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("got %+v", resp.Error)
	}
}

func TestLoadPhotoBase64(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(200, 100, color.Black)); err != nil {
		t.Fatal(err)
	}
	var bg struct {
		Scale float64 `json:"scale"`
		Info  struct {
			Width  int    `json:"width"`
			Height int    `json:"height"`
			Format string `json:"format"`
		} `json:"info"`
	}
	mustCall(t, s, "session_load_photo", map[string]string{"data_base64": base64.StdEncoding.EncodeToString(buf.Bytes())}, &bg)
	if bg.Scale != 4 {
		t.Errorf("Scale: got %v, want 4", bg.Scale)
	}
	if bg.Info.Width != 200 || bg.Info.Height != 100 || bg.Info.Format != "memory" {
		t.Errorf("Info: got %+v", bg.Info)
	}
}

func TestLoadPhotoPathInfo(t *testing.T) {
	s := newTestServer(t)
	path := createTestImageFile(t, 400, 300, color.White)

	var res struct {
		Ref  string `json:"ref"`
		Info struct {
			Ref    string `json:"ref"`
			Format string `json:"format"`
		} `json:"info"`
	}
	mustCall(t, s, "session_load_photo", map[string]string{"path": path}, &res)
	if res.Ref != path || res.Info.Ref != path {
		t.Errorf("refs: got %q and %q, want %q", res.Ref, res.Info.Ref, path)
	}
	if res.Info.Format != "png" {
		t.Errorf("Info: got %+v", res.Info)
	}
}

func TestQuickEstimate(t *testing.T) {
	s := newTestServer(t)
	if _, rpcErr := callTool(t, s, "calibration_quick_estimate", nil); rpcErr == nil {
		t.Fatal("quick estimate without a photo should fail")
	}

	path := createTestImageFile(t, 400, 300, color.White)
	mustCall(t, s, "session_load_photo", map[string]string{"path": path}, nil)

	var state struct {
		PixelsPerCm float64 `json:"pixels_per_cm"`
		Estimated   bool    `json:"estimated"`
	}
	payload := mustCall(t, s, "calibration_quick_estimate", nil, &state)
	if state.PixelsPerCm != 2 || !state.Estimated {
		t.Errorf("quick estimate: got %+v", state)
	}
	if !payload.hasNote("Estimated scale") {
		t.Errorf("notifications %+v", payload.Notifications)
	}

	var reset struct {
		Phase string `json:"phase"`
	}
	mustCall(t, s, "calibration_reset", nil, &reset)
	if reset.Phase != "idle" {
		t.Errorf("after reset: got %q", reset.Phase)
	}
}

func TestSceneInspection(t *testing.T) {
	s := newTestServer(t)
	loadAndCalibrate(t, s)

	var m struct {
		Pixels     float64 `json:"distance_px"`
		Centimeter float64 `json:"distance_cm"`
		Calibrated bool    `json:"calibrated"`
	}
	mustCall(t, s, "scene_measure", map[string]float64{"x1": 0, "y1": 0, "x2": 30, "y2": 40}, &m)
	if m.Pixels != 50 || m.Centimeter != 25 || !m.Calibrated {
		t.Errorf("measure: got %+v", m)
	}

	var sw struct {
		Hex string `json:"hex"`
	}
	mustCall(t, s, "scene_sample_color", pt(400, 300), &sw)
	if sw.Hex != "#808080" {
		t.Errorf("sample: got %s, want #808080", sw.Hex)
	}

	var pal paletteResult
	mustCall(t, s, "scene_palette", map[string]int{"count": 3}, &pal)
	if len(pal.Colors) == 0 {
		t.Error("palette should not be empty")
	}

	var zoom struct {
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Image  string `json:"image_base64"`
	}
	mustCall(t, s, "scene_zoom", map[string]string{"region": "top-left"}, &zoom)
	if zoom.Width != 400 || zoom.Height != 300 || zoom.Image == "" {
		t.Errorf("zoom: got %dx%d", zoom.Width, zoom.Height)
	}

	mustCall(t, s, "scene_grid", nil, &zoom)
	if zoom.Width != 800 || zoom.Height != 600 {
		t.Errorf("grid: got %dx%d", zoom.Width, zoom.Height)
	}
}

func TestGridRequiresCalibration(t *testing.T) {
	s := newTestServer(t)
	path := createTestImageFile(t, 400, 300, color.White)
	mustCall(t, s, "session_load_photo", map[string]string{"path": path}, nil)

	if _, rpcErr := callTool(t, s, "scene_grid", nil); rpcErr == nil || rpcErr.Code != CodeToolFailed {
		t.Errorf("grid before calibration: got %+v", rpcErr)
	}
}

func TestSessionReset(t *testing.T) {
	s := newTestServer(t)
	loadAndCalibrate(t, s)

	var status struct {
		HasPhoto bool   `json:"has_photo"`
		Phase    string `json:"calibration_phase"`
	}
	mustCall(t, s, "session_reset", nil, &status)
	if status.HasPhoto || status.Phase != "idle" {
		t.Errorf("after reset: got %+v", status)
	}
}
