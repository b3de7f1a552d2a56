package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ironsheep/room-overlay-mcp/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "room-overlay-mcp",
	Short: "MCP server for scaled product overlays on room photos",
	Long: `room-overlay-mcp calibrates a room photo against a reference line of known
length and places catalog products on it at their real-world size.

It communicates via MCP protocol over stdin/stdout. Configure it in your MCP
client (e.g., Claude Desktop). With --http it also serves JSON-RPC, the
rendered scene and Prometheus metrics over HTTP.

Environment variables:
  ROOM_OVERLAY_LOG_LEVEL=debug      Log level (debug, info, warn, error)
  ROOM_OVERLAY_REMOVER_URL=<url>    Background-removal service endpoint
  ROOM_OVERLAY_CATALOG=<file>       Product catalog YAML file`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML configuration file")
}

// loadConfig reads the --config file, or the defaults when none is given.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger writes text logs to w. stdout is reserved for the MCP protocol,
// so callers pass stderr.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
