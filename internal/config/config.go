// Package config loads the server configuration: a YAML file over built-in
// defaults, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/room-overlay-mcp/internal/bgremoval"
	"github.com/ironsheep/room-overlay-mcp/internal/catalog"
	"github.com/ironsheep/room-overlay-mcp/internal/compositor"
	"github.com/ironsheep/room-overlay-mcp/internal/geometry"
	"github.com/ironsheep/room-overlay-mcp/internal/imaging"
	"github.com/ironsheep/room-overlay-mcp/internal/overlay"
)

// Environment overrides.
const (
	EnvLogLevel   = "ROOM_OVERLAY_LOG_LEVEL"
	EnvRemoverURL = "ROOM_OVERLAY_REMOVER_URL"
	EnvCatalog    = "ROOM_OVERLAY_CATALOG"
)

// Remover kinds.
const (
	RemoverNone   = "none"
	RemoverHTTP   = "http"
	RemoverChroma = "chroma"
)

// Config is the full server configuration.
type Config struct {
	LogLevel     string            `yaml:"log_level"`
	Canvas       CanvasConfig      `yaml:"canvas"`
	Overlay      OverlayConfig     `yaml:"overlay"`
	Shadow       ShadowConfig      `yaml:"shadow"`
	Calibration  CalibrationConfig `yaml:"calibration"`
	Remover      RemoverConfig     `yaml:"remover"`
	Catalog      CatalogConfig     `yaml:"catalog"`
	HTTP         HTTPConfig        `yaml:"http"`
	Metrics      MetricsConfig     `yaml:"metrics"`
	HistoryLimit int               `yaml:"history_limit"`
}

type CanvasConfig struct {
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	Background string `yaml:"background"`
	GuideColor string `yaml:"guide_color"`
}

type OverlayConfig struct {
	AnchorX        float64 `yaml:"anchor_x"`
	AnchorY        float64 `yaml:"anchor_y"`
	DefaultOpacity float64 `yaml:"default_opacity"`
	AspectLock     bool    `yaml:"aspect_lock"`
}

type ShadowConfig struct {
	BlurRadius float64 `yaml:"blur_radius"`
	OffsetX    float64 `yaml:"offset_x"`
	OffsetY    float64 `yaml:"offset_y"`
	Alpha      float64 `yaml:"alpha"`
	Color      string  `yaml:"color"`
}

type CalibrationConfig struct {
	// QuickPixelsPerCm is the unmeasured estimate used by quick calibration.
	QuickPixelsPerCm float64 `yaml:"quick_pixels_per_cm"`
}

type RemoverConfig struct {
	Kind      string        `yaml:"kind"`
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	KeyColor  string        `yaml:"key_color"`
	Tolerance float64       `yaml:"tolerance"`
}

type CatalogConfig struct {
	// Path is a YAML catalog file. Empty uses the built-in sample catalog.
	Path string `yaml:"path"`

	// ImageDir prefixes the image names of the sample catalog.
	ImageDir string `yaml:"image_dir"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Canvas: CanvasConfig{
			Width:      800,
			Height:     600,
			Background: "#ffffff",
			GuideColor: "#3b82f6",
		},
		Overlay: OverlayConfig{
			AnchorX:        100,
			AnchorY:        100,
			DefaultOpacity: 80,
			AspectLock:     true,
		},
		Shadow: ShadowConfig{
			BlurRadius: 8,
			OffsetX:    4,
			OffsetY:    6,
			Alpha:      0.35,
			Color:      "#000000",
		},
		Calibration: CalibrationConfig{QuickPixelsPerCm: 2},
		Remover: RemoverConfig{
			Kind:      RemoverNone,
			Timeout:   bgremoval.DefaultTimeout,
			KeyColor:  "#ffffff",
			Tolerance: bgremoval.DefaultKeyTolerance,
		},
		HTTP:         HTTPConfig{Listen: ":8080"},
		Metrics:      MetricsConfig{Enabled: true},
		HistoryLimit: 50,
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvRemoverURL); v != "" {
		c.Remover.URL = v
		if c.Remover.Kind == RemoverNone {
			c.Remover.Kind = RemoverHTTP
		}
	}
	if v := os.Getenv(EnvCatalog); v != "" {
		c.Catalog.Path = v
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Canvas.Width <= 0 || c.Canvas.Height <= 0 ||
		c.Canvas.Width > compositor.MaxCanvasSide || c.Canvas.Height > compositor.MaxCanvasSide {
		errs = append(errs, fmt.Errorf("canvas size %dx%d out of range", c.Canvas.Width, c.Canvas.Height))
	}
	for name, hex := range map[string]string{
		"canvas.background":  c.Canvas.Background,
		"canvas.guide_color": c.Canvas.GuideColor,
		"shadow.color":       c.Shadow.Color,
	} {
		if _, err := parseColor(hex); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if !finite(c.Overlay.AnchorX) || !finite(c.Overlay.AnchorY) {
		errs = append(errs, errors.New("overlay anchor must be finite"))
	}
	if !finite(c.Overlay.DefaultOpacity) || c.Overlay.DefaultOpacity < 0 || c.Overlay.DefaultOpacity > 100 {
		errs = append(errs, fmt.Errorf("overlay.default_opacity %v not in [0,100]", c.Overlay.DefaultOpacity))
	}
	if c.Shadow.BlurRadius < 0 || c.Shadow.Alpha < 0 || c.Shadow.Alpha > 1 {
		errs = append(errs, errors.New("shadow blur must be >= 0 and alpha in [0,1]"))
	}
	if !finite(c.Calibration.QuickPixelsPerCm) || c.Calibration.QuickPixelsPerCm <= 0 {
		errs = append(errs, fmt.Errorf("calibration.quick_pixels_per_cm must be positive, got %v", c.Calibration.QuickPixelsPerCm))
	}
	switch c.Remover.Kind {
	case RemoverNone:
	case RemoverHTTP:
		if c.Remover.URL == "" {
			errs = append(errs, errors.New("remover.url is required for the http remover"))
		}
	case RemoverChroma:
		if _, err := parseColor(c.Remover.KeyColor); err != nil {
			errs = append(errs, fmt.Errorf("remover.key_color: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown remover kind %q", c.Remover.Kind))
	}
	if c.Remover.Timeout < 0 {
		errs = append(errs, errors.New("remover.timeout must not be negative"))
	}
	if c.HistoryLimit < 0 {
		errs = append(errs, errors.New("history_limit must not be negative"))
	}
	return errors.Join(errs...)
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// CanvasOptions converts the canvas and shadow settings.
func (c *Config) CanvasOptions() compositor.Options {
	opts := compositor.DefaultOptions()
	opts.Width, opts.Height = c.Canvas.Width, c.Canvas.Height
	if col, err := parseColor(c.Canvas.Background); err == nil {
		opts.Fill = col
	}
	if col, err := parseColor(c.Canvas.GuideColor); err == nil {
		opts.GuideColor = col
	}
	opts.Shadow.BlurRadius = c.Shadow.BlurRadius
	opts.Shadow.OffsetX = c.Shadow.OffsetX
	opts.Shadow.OffsetY = c.Shadow.OffsetY
	opts.Shadow.Alpha = c.Shadow.Alpha
	if col, err := parseColor(c.Shadow.Color); err == nil {
		opts.Shadow.Color = col
	}
	return opts
}

// OverlayOptions converts the placement settings.
func (c *Config) OverlayOptions() overlay.Options {
	return overlay.Options{
		Anchor:         geometry.Pt(c.Overlay.AnchorX, c.Overlay.AnchorY),
		DefaultOpacity: c.Overlay.DefaultOpacity,
		AspectLock:     c.Overlay.AspectLock,
		RemovalTimeout: c.Remover.Timeout,
	}
}

// NewRemover builds the configured background remover over store.
func (c *Config) NewRemover(store *imaging.Store) (bgremoval.Remover, error) {
	switch c.Remover.Kind {
	case RemoverHTTP:
		return bgremoval.NewHTTP(c.Remover.URL, store, c.Remover.Timeout), nil
	case RemoverChroma:
		return bgremoval.NewChromaKey(store, c.Remover.KeyColor, c.Remover.Tolerance)
	case RemoverNone, "":
		return bgremoval.Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown remover kind %q", c.Remover.Kind)
	}
}

// LoadCatalog reads the configured catalog or returns the sample catalog.
func (c *Config) LoadCatalog() (*catalog.Catalog, error) {
	if c.Catalog.Path == "" {
		return catalog.Sample(c.Catalog.ImageDir), nil
	}
	return catalog.Load(c.Catalog.Path)
}

func parseColor(hex string) (color.Color, error) {
	col, err := colorful.Hex(hex)
	if err != nil {
		return nil, fmt.Errorf("invalid colour %q: %w", hex, err)
	}
	r, g, b := col.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
