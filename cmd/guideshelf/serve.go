package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/guideshelf/internal/config"
	"github.com/jackzampolin/guideshelf/internal/home"
	"github.com/jackzampolin/guideshelf/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the guideshelf server",
	Long: `Start the guideshelf HTTP server.

The server opens the database and blob store under the home directory, runs
the job coordinator, and answers API requests. On Ctrl+C or SIGTERM running
jobs stop after their current page and resume from their checkpoint on the
next extraction.

The server provides:
  - /health - Basic server health check
  - /ready  - Readiness check (includes database status)
  - /api/*  - Books, pages, jobs and pipeline output

Examples:
  guideshelf serve                    # Start on default port 8080
  guideshelf serve --port 3000        # Start on custom port
  guideshelf serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		path := cfgFile
		if path == "" && h.ConfigExists() {
			path = h.ConfigPath()
		}
		cfgMgr, err := config.NewManager(path)
		if err != nil {
			return err
		}
		cfgMgr.WatchConfig()

		logger := newLogger(cfgMgr.Get().Logging)
		slog.SetDefault(logger)

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			Home:          h,
			ConfigManager: cfgMgr,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func newLogger(cfg config.LoggingCfg) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: server.host from config)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default: server.port from config)")

	rootCmd.AddCommand(serveCmd)
}
