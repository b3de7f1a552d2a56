// Package server implements the MCP (Model Context Protocol) server for the
// room overlay session.
//
// This package provides a JSON-RPC 2.0 server that exposes one editing
// session through MCP tools: load a room photo, calibrate its scale against a
// reference line, place catalog products at their real-world size, adjust
// and mask the overlay, and export the result.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// The same requests can be POSTed to /rpc on the optional HTTP transport,
// which also serves the rendered scene at /export and Prometheus metrics at
// /metrics.
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Session:
//   - session_load_photo: Load the room photo (path or base64)
//   - session_status: Report the session state
//   - session_reset: Start over
//   - session_export: Render and encode the scene (PNG or JPEG)
//
// Calibration:
//   - calibration_begin, calibration_update, calibration_end: Draw the reference line
//   - calibration_confirm_length: Enter its real length in centimeters
//   - calibration_quick_estimate: Set an unmeasured estimate
//   - calibration_reset: Discard the calibration
//
// Catalog and overlay:
//   - catalog_list: List products
//   - overlay_place: Place a product at calibrated size
//   - overlay_set_opacity, overlay_move, overlay_resize, overlay_rotate,
//     overlay_aspect_lock: Adjust the overlay
//
// Mask:
//   - mask_start, mask_add_point, mask_undo, mask_finish, mask_reset
//
// History:
//   - history_undo, history_redo
//
// Scene inspection:
//   - scene_entities: List the layers
//   - scene_hit_test: Which layer is under a point
//   - scene_measure: Distance between two points in pixels and centimeters
//   - scene_sample_color, scene_palette: Colors of the rendered scene
//   - scene_zoom: Zoom into a region
//   - scene_grid: Overlay a centimeter grid
//
// # Notifications
//
// The session reports user-facing messages (calibration prompts, placement
// results, export confirmations) to a recorder. Each tool result returns the
// messages collected since the previous call, so the outcome of a placement
// that finished in the background arrives with the next call. Stdio and HTTP
// share the recorder, so calls are serialized: a call and the messages it
// drains never interleave with another transport's call.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure), -32602 (invalid arguments or
//     unknown tool) or -32601 (unknown method)
//   - message: Human-readable error description
//   - data: The Go error string and any notifications
//
// # Usage
//
//	srv, err := server.New(server.Config{Session: sess, Notes: notes})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(ctx, os.Stdin, os.Stdout); err != nil {
//	    log.Fatal(err)
//	}
package server
