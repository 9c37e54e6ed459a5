package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/carenav/carenav/internal/client"
	"github.com/carenav/carenav/internal/domain/navigator"
	"github.com/carenav/carenav/internal/domain/record"
	"github.com/carenav/carenav/internal/platform/analytics"
	"github.com/carenav/carenav/internal/platform/mcp"
	"github.com/carenav/carenav/internal/platform/tabular"
)

// toolsCmd serves the navigator tools over stdio. By default the tools read
// the CSV tables directly; with --remote they call a running API server.
func toolsCmd() *cobra.Command {
	var (
		remote  bool
		apiURL  string
		dataDir string
	)
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Serve the care navigator tools over stdio (MCP)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// stdout carries the protocol
			logger := newLogger(cfg, os.Stderr)

			var backend navigator.Backend
			if remote {
				if apiURL == "" {
					apiURL = cfg.APIURL
				}
				backend = client.New(apiURL, cfg.APITimeout, logger)
				logger.Info().Str("api_url", apiURL).Msg("tools backed by remote api")
			} else {
				if dataDir == "" {
					dataDir = cfg.DataDir
				}
				svc := record.NewService(record.NewTableRepo(tabular.NewFileStore(dataDir)), record.WithLogger(logger))
				backend = navigator.NewLocal(svc)
				logger.Info().Str("data_dir", dataDir).Msg("tools backed by local tables")
			}

			srv := mcp.NewServer(navigator.ServerName, navigator.ServerVersion, logger)
			navigator.Register(srv, backend)
			usage := analytics.NewTracker()
			srv.SetObserver(usage.ObserveTool)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			err = srv.Serve(ctx, os.Stdin, os.Stdout)
			ov := usage.Overview()
			logger.Info().Int64("calls", ov.TotalCalls).Int64("errors", ov.TotalErrs).Msg("tool session ended")
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "call the HTTP API instead of reading tables")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "API base URL for --remote (overrides API_URL)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory holding the CSV tables (overrides DATA_DIR)")
	return cmd
}
