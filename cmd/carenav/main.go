package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carenav/carenav/internal/config"
	"github.com/carenav/carenav/internal/domain/navigator"
	"github.com/carenav/carenav/internal/domain/record"
	"github.com/carenav/carenav/internal/platform/analytics"
	"github.com/carenav/carenav/internal/platform/mcp"
	"github.com/carenav/carenav/internal/platform/middleware"
	"github.com/carenav/carenav/internal/platform/tabular"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           "carenav",
		Short:         "Care navigator patient record API and tool server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newLogger writes JSON to w, or console output in development.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(w).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return logger.Level(level)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the patient record API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			return runServer(cfg, newLogger(cfg, os.Stdout))
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory holding the CSV tables (overrides DATA_DIR)")
	return cmd
}

// newServer wires the HTTP surface over store.
func newServer(cfg *config.Config, store tabular.Store, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	usage := analytics.NewTracker()
	e.Use(analytics.Middleware(usage))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/api/export/"))
	}

	svc := record.NewService(record.NewTableRepo(store), record.WithLogger(logger))
	handler := record.NewHandler(svc, logger)

	api := e.Group("/api")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))
	handler.RegisterRoutes(api)

	tools := mcp.NewServer(navigator.ServerName, navigator.ServerVersion, logger)
	navigator.Register(tools, navigator.NewLocal(svc))
	tools.SetObserver(usage.ObserveTool)
	e.POST("/mcp", tools.EchoHandler(), middleware.RateLimit(rateLimitCfg))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	health := e.Group("/health")
	health.GET("/data", handler.HealthHandler)
	analytics.NewHandler(usage).RegisterRoutes(health)

	return e
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	store := tabular.NewFileStore(cfg.DataDir)
	e := newServer(cfg, store, logger)

	for _, d := range record.Datasets {
		ok, err := store.Exists(context.Background(), string(d))
		if err != nil || !ok {
			logger.Warn().Str("dataset", string(d)).Str("dir", cfg.DataDir).Msg("table missing; run carenav generate")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("data_dir", cfg.DataDir).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
