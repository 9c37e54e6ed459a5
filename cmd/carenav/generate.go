package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/carenav/carenav/internal/platform/seed"
	"github.com/carenav/carenav/internal/platform/tabular"
)

func generateCmd() *cobra.Command {
	var (
		dataDir string
		gen     = seed.DefaultConfig()
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic patient population to the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dataDir == "" {
				dataDir = cfg.DataDir
			}
			logger := newLogger(cfg, os.Stderr)

			res, err := seed.Seed(cmd.Context(), tabular.NewFileStore(dataDir), gen, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated %d patients and %d referrals in %s\n", res.Patients, res.Referrals, dataDir)
			return nil
		},
	}
	cmd.Flags().IntVar(&gen.Patients, "patients", gen.Patients, "number of patients")
	cmd.Flags().IntVar(&gen.MaxReferrals, "max-referrals", gen.MaxReferrals, "maximum SDOH referrals per patient")
	cmd.Flags().Int64Var(&gen.Seed, "seed", 0, "random seed (0 picks one)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "output directory (overrides DATA_DIR)")
	return cmd
}
