package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironsheep/room-overlay-mcp/internal/config"
	"github.com/ironsheep/room-overlay-mcp/internal/imaging"
	"github.com/ironsheep/room-overlay-mcp/internal/metrics"
	"github.com/ironsheep/room-overlay-mcp/internal/notify"
	"github.com/ironsheep/room-overlay-mcp/internal/server"
	"github.com/ironsheep/room-overlay-mcp/internal/session"
)

// drainTimeout bounds the wait for in-flight placements at shutdown.
const drainTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdin/stdout (the default command)",
	RunE:  runServe,
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().Bool("http", false, "Also serve the HTTP transport")
		c.Flags().String("listen", "", "HTTP listen address (overrides http.listen)")
	}
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.Info("starting room-overlay-mcp", "version", Version, "built", BuildTime, "commit", GitCommit)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notes := &notify.Recorder{}
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	sess, err := newSession(cfg, notes, m, logger)
	if err != nil {
		return err
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := sess.Close(drainCtx); err != nil {
			logger.Warn("placements still running at shutdown", "error", err)
		}
	}()

	srv, err := server.New(server.Config{
		Session: sess,
		Notes:   notes,
		Metrics: m,
		Logger:  logger,
		Version: Version,
	})
	if err != nil {
		return err
	}

	if enabled, _ := cmd.Flags().GetBool("http"); enabled {
		addr, _ := cmd.Flags().GetString("listen")
		if addr == "" {
			addr = cfg.HTTP.Listen
		}
		go func() {
			if err := srv.ListenAndServe(ctx, addr); err != nil {
				logger.Error("http transport stopped", "error", err)
			}
		}()
	}

	if err := srv.Run(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// newSession wires the image store, remover and catalog from cfg into a
// session that reports to notes and the log.
func newSession(cfg *config.Config, notes *notify.Recorder, m *metrics.Metrics, logger *slog.Logger) (*session.Session, error) {
	store := imaging.NewStore()
	remover, err := cfg.NewRemover(store)
	if err != nil {
		return nil, err
	}
	cat, err := cfg.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	logger.Info("catalog loaded", "products", cat.Len(), "remover", cfg.Remover.Kind)

	opts := session.Options{
		Canvas:           cfg.CanvasOptions(),
		Overlay:          cfg.OverlayOptions(),
		QuickPixelsPerCm: cfg.Calibration.QuickPixelsPerCm,
		HistoryLimit:     cfg.HistoryLimit,
	}
	return session.New(opts, session.Deps{
		Images:   store,
		Catalog:  cat,
		Remover:  remover,
		Notifier: notify.Multi{notes, notify.SlogNotifier{Logger: logger}},
		Metrics:  m,
		Logger:   logger,
	})
}
