package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/your-commonbase/commonbase/internal/ingest"
)

var (
	flagDataset string
	flagImages  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file.csv]",
	Short: "Bulk ingest entries from a CSV file or a named seed dataset",
	Long: `Ingest entries from a CSV file with columns: data (required), id/uuid,
metadata, embedding, link, filename. Rows with a valid 1536-dimension
embedding are stored as-is; anything else is re-embedded.

With --dataset, the named seed CSV under the assets dir is ingested instead
of a file argument.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), args)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&flagDataset, "dataset", "", `seed dataset to ingest ("quotes" or "images")`)
	ingestCmd.Flags().BoolVar(&flagImages, "images", false, "treat rows as seed images (rewrite filename into source metadata)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(parent context.Context, args []string) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()

	a, err := setupApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		path string
		opts ingest.Options
	)
	switch {
	case flagDataset != "":
		path, opts, err = ingest.SeedFile(a.cfg.AssetsDir, flagDataset)
		if err != nil {
			return err
		}
	case len(args) == 1:
		path = args[0]
		opts = ingest.Options{ImageSeed: flagImages}
	default:
		return fmt.Errorf("either a CSV file argument or --dataset is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	report, err := a.pipeline.Run(ctx, f, opts)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", path, err)
	}

	fmt.Printf("Ingested %d entries, %d errors\n", report.SuccessCount, report.ErrorCount)
	for _, e := range report.Errors {
		fmt.Printf("  %s\n", e)
	}
	if report.ErrorCount > len(report.Errors) {
		fmt.Printf("  ... and %d more\n", report.ErrorCount-len(report.Errors))
	}
	return nil
}
