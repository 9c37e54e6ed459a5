package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/carenav/carenav/internal/domain/record"
	"github.com/carenav/carenav/internal/platform/export"
	"github.com/carenav/carenav/internal/platform/tabular"
)

func exportCmd() *cobra.Command {
	var (
		dataDir string
		out     string
	)
	cmd := &cobra.Command{
		Use:   "export <dataset>",
		Short: "Export one dataset as an XLSX workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dataDir == "" {
				dataDir = cfg.DataDir
			}
			d, err := record.ParseDataset(args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = string(d) + ".xlsx"
			}

			svc := record.NewService(record.NewTableRepo(tabular.NewFileStore(dataDir)),
				record.WithLogger(newLogger(cfg, os.Stderr)))
			t, err := svc.Export(cmd.Context(), d)
			if err != nil {
				return err
			}
			return writeWorkbook(out, string(d), t)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory holding the CSV tables (overrides DATA_DIR)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default <dataset>.xlsx)")
	return cmd
}

func writeWorkbook(path, sheet string, t *tabular.Table) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := export.WriteXLSX(f, sheet, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
