package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func object(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        typ,
		"description": description,
	}
}

func point(what string) map[string]interface{} {
	return map[string]interface{}{
		"x": prop("number", what+" X coordinate in canvas pixels"),
		"y": prop("number", what+" Y coordinate in canvas pixels"),
	}
}

func region() map[string]interface{} {
	return map[string]interface{}{
		"x1":     prop("integer", "Left edge X coordinate (inclusive)"),
		"y1":     prop("integer", "Top edge Y coordinate (inclusive)"),
		"x2":     prop("integer", "Right edge X coordinate (exclusive)"),
		"y2":     prop("integer", "Bottom edge Y coordinate (exclusive)"),
		"region": prop("string", "Named region instead of coordinates: top-left, top-right, bottom-left, bottom-right, top-half, bottom-half, left-half, right-half, center"),
	}
}

func empty() map[string]interface{} {
	return object(map[string]interface{}{})
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Session
		{
			Name:        "session_load_photo",
			Description: "Load a room photo as the canvas background. The photo is fitted and centered on the 800x600 canvas. Loading a photo resets calibration, the product overlay, the mask and the undo history.",
			InputSchema: object(map[string]interface{}{
				"path":        prop("string", "Absolute path to the image file"),
				"data_base64": prop("string", "Base64-encoded image bytes, used when path is empty"),
			}),
		},
		{
			Name:        "session_status",
			Description: "Report the session state: photo, calibration phase and scale, mask state, active overlay, opacity and undo/redo availability.",
			InputSchema: empty(),
		},
		{
			Name:        "session_reset",
			Description: "Clear the photo, calibration, overlay, mask and history.",
			InputSchema: empty(),
		},
		{
			Name:        "session_export",
			Description: "Render the scene at canvas resolution and encode it. Writes to path when given, otherwise returns base64.",
			InputSchema: object(map[string]interface{}{
				"path":   prop("string", "Output file path. A directory receives room-visualization.png"),
				"format": map[string]interface{}{"type": "string", "enum": []string{"png", "jpeg"}, "description": "Image format. Default png", "default": "png"},
			}),
		},

		// Calibration
		{
			Name:        "calibration_begin",
			Description: "Start drawing the calibration reference line at a canvas point. Draw it over an object whose real length you know.",
			InputSchema: object(point("Start"), "x", "y"),
		},
		{
			Name:        "calibration_update",
			Description: "Move the free end of the calibration line while drawing.",
			InputSchema: object(point("End"), "x", "y"),
		},
		{
			Name:        "calibration_end",
			Description: "Finish drawing the calibration line. A zero-length line is rejected.",
			InputSchema: empty(),
		},
		{
			Name:        "calibration_confirm_length",
			Description: "Enter the real-world length of the drawn line in centimeters. Returns the scale factor in pixels per centimeter.",
			InputSchema: object(map[string]interface{}{
				"length_cm": prop("number", "Real length of the reference line in centimeters (> 0)"),
			}, "length_cm"),
		},
		{
			Name:        "calibration_quick_estimate",
			Description: "Set an unmeasured scale estimate without drawing a line. The result is marked as estimated; product sizes will be approximate.",
			InputSchema: object(map[string]interface{}{
				"pixels_per_cm": prop("number", "Estimated pixels per centimeter. Default 2"),
			}),
		},
		{
			Name:        "calibration_reset",
			Description: "Discard the calibration line and scale. The current overlay stays in place.",
			InputSchema: empty(),
		},

		// Catalog
		{
			Name:        "catalog_list",
			Description: "List catalog products with their real-world dimensions.",
			InputSchema: object(map[string]interface{}{
				"category": prop("string", "Optional category filter (curtains, sofa-covers, cushions)"),
			}),
		},

		// Overlay
		{
			Name:        "overlay_place",
			Description: "Place a catalog product on the photo at its calibrated real-world size. Replaces the current overlay. Background removal runs asynchronously; the original product image is used when it fails.",
			InputSchema: object(map[string]interface{}{
				"product_id": prop("string", "Catalog product id"),
				"wait": map[string]interface{}{
					"type":        "boolean",
					"description": "Wait for background removal to finish. Default true",
					"default":     true,
				},
			}, "product_id"),
		},
		{
			Name:        "overlay_set_opacity",
			Description: "Set the overlay opacity in percent. The value also applies to later placements.",
			InputSchema: object(map[string]interface{}{
				"opacity": prop("number", "Opacity percent, 0-100"),
			}, "opacity"),
		},
		{
			Name:        "overlay_move",
			Description: "Drag the overlay by a canvas offset.",
			InputSchema: object(map[string]interface{}{
				"dx": prop("number", "Horizontal offset in pixels"),
				"dy": prop("number", "Vertical offset in pixels"),
			}, "dx", "dy"),
		},
		{
			Name:        "overlay_resize",
			Description: "Set the overlay scale factors. With the aspect lock on, scale_y follows scale_x.",
			InputSchema: object(map[string]interface{}{
				"scale_x": prop("number", "Horizontal scale factor (> 0)"),
				"scale_y": prop("number", "Vertical scale factor (> 0)"),
			}, "scale_x", "scale_y"),
		},
		{
			Name:        "overlay_rotate",
			Description: "Rotate the overlay clockwise around its top-left corner.",
			InputSchema: object(map[string]interface{}{
				"degrees": prop("number", "Rotation to add, in degrees"),
			}, "degrees"),
		},
		{
			Name:        "overlay_aspect_lock",
			Description: "Engage or release the overlay's aspect-ratio lock.",
			InputSchema: object(map[string]interface{}{
				"locked": prop("boolean", "True to keep the aspect ratio while resizing"),
			}, "locked"),
		},

		// Mask
		{
			Name:        "mask_start",
			Description: "Start outlining the part of the product that should stay visible.",
			InputSchema: empty(),
		},
		{
			Name:        "mask_add_point",
			Description: "Add a canvas point to the mask outline.",
			InputSchema: object(point("Outline"), "x", "y"),
		},
		{
			Name:        "mask_undo",
			Description: "Remove the most recent outline point.",
			InputSchema: empty(),
		},
		{
			Name:        "mask_finish",
			Description: "Close the outline and clip the overlay to it. Outlines with fewer than three points are discarded.",
			InputSchema: empty(),
		},
		{
			Name:        "mask_reset",
			Description: "Remove the clip and any outline in progress.",
			InputSchema: empty(),
		},

		// History
		{
			Name:        "history_undo",
			Description: "Undo the last overlay change. Cancels a placement still waiting for background removal.",
			InputSchema: empty(),
		},
		{
			Name:        "history_redo",
			Description: "Redo the last undone overlay change.",
			InputSchema: empty(),
		},

		// Scene inspection
		{
			Name:        "scene_entities",
			Description: "List the scene layers bottom to top: background, overlay, calibration guide, mask guide.",
			InputSchema: empty(),
		},
		{
			Name:        "scene_measure",
			Description: "Measure the distance between two canvas points in pixels and, once calibrated, in centimeters.",
			InputSchema: object(map[string]interface{}{
				"x1": prop("number", "First point X"),
				"y1": prop("number", "First point Y"),
				"x2": prop("number", "Second point X"),
				"y2": prop("number", "Second point Y"),
			}, "x1", "y1", "x2", "y2"),
		},
		{
			Name:        "scene_hit_test",
			Description: "Report which interactive layer, if any, is under a canvas point. The background never counts as a hit.",
			InputSchema: object(point("Test"), "x", "y"),
		},
		{
			Name:        "scene_sample_color",
			Description: "Get the rendered color at a canvas point.",
			InputSchema: object(point("Sample"), "x", "y"),
		},
		{
			Name:        "scene_palette",
			Description: "Extract the dominant colors of the room photo, or of a region. Useful to pick a product color that suits the room.",
			InputSchema: object(withCount(region())),
		},
		{
			Name:        "scene_zoom",
			Description: "Render the scene and return a region as base64 PNG, optionally scaled. Use it to place mask points precisely.",
			InputSchema: object(withScale(region())),
		},
		{
			Name:        "scene_grid",
			Description: "Render the scene with a centimeter grid derived from the calibration. Requires calibration.",
			InputSchema: object(map[string]interface{}{
				"cm_per_line": prop("number", "Grid spacing in centimeters. Default 10"),
			}),
		},
	}
}

func withCount(props map[string]interface{}) map[string]interface{} {
	props["count"] = prop("integer", "Maximum number of colors. Default 5")
	return props
}

func withScale(props map[string]interface{}) map[string]interface{} {
	props["scale"] = prop("number", "Scale factor (e.g. 2.0 to double size). Default 1.0")
	return props
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
