// Package imaging resolves image refs and inspects room photos.
//
// The Store maps refs (file paths or "mem://" refs for generated images such
// as background-removal cut-outs) to decoded images and reports their native
// size. The remaining functions work on plain image.Image values and help a
// client inspect the photo and the rendered scene: colour sampling and the
// dominant palette, zooming into a region, and a measurement grid.
//
// # Coordinate System
//
// All pixel coordinates are 0-based with (0,0) at the top-left corner:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - For regions, Min is inclusive and Max is exclusive
//
// # Thread Safety
//
// Store is safe for concurrent use. The inspection functions never mutate
// their input and return new images.
//
// # Color Representation
//
// Swatches carry hex ("#RRGGBB", alpha excluded), 8-bit RGBA and HSL (hue
// 0-360, saturation and lightness 0-100). Palette groups colours in CIE Lab
// space through go-colorful.
//
// # Memory Management
//
// Cached images remain in memory until Evict(). The session evicts
// superseded background-removal results.
package imaging
