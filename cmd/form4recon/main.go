package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"form4recon/internal/capiq"
	"form4recon/internal/config"
	"form4recon/internal/datamule"
	"form4recon/internal/edgar"
	"form4recon/internal/export"
	"form4recon/internal/form4"
	"form4recon/internal/logger"
	"form4recon/internal/models"
	"form4recon/internal/reconcile"
	"form4recon/internal/rollup"
	"form4recon/internal/store"
	"form4recon/internal/telemetry"
)

func main() {
	os.Exit(run())
}

// run returns the exit code instead of calling os.Exit so the deferred
// log flush and span shutdown still happen on failure paths.
func run() int {
	root := &cobra.Command{
		Use:           "form4recon",
		Short:         "Fetch, normalize and reconcile SEC Form 3/4/5 insider transactions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(exportCmd(), compareCmd())

	if err := logger.Init(config.Debug); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logger.Sync()

	shutdown, err := telemetry.Init(config.TraceEnabled)
	if err != nil {
		logger.Error("telemetry init failed", zap.Error(err))
		return 1
	}
	defer shutdown(context.Background())

	if err := root.Execute(); err != nil {
		logger.Error("command failed", zap.Error(err))
		return 1
	}
	return 0
}

func exportCmd() *cobra.Command {
	var (
		ownerCik       string
		issuerCik      string
		output         string
		source         string
		maxFilings     int
		skipRollups    bool
		emitZeroSplits bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch an insider's filings and export the normalized transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, span := telemetry.Start(cmd.Context(), "export")
			defer span.End()

			cache, err := store.Open(filepath.Join(config.DataDir, "filings.db"))
			if err != nil {
				return err
			}
			defer cache.Close()

			filings, err := fetchFilings(ctx, cache, source, ownerCik, maxFilings)
			if err != nil {
				return err
			}
			logger.Info("fetched filings", zap.Int("count", len(filings)))

			set, err := parseAndFilter(ctx, filings, issuerCik)
			if err != nil {
				return err
			}

			ordered, err := normalize(ctx, set, skipRollups, emitZeroSplits)
			if err != nil {
				return err
			}

			if output == "" {
				output = export.Filename(set, ordered, time.Now())
			}
			if err := export.WriteFile(output, set, ordered); err != nil {
				return err
			}
			logger.Info("exported", zap.String("file", output), zap.Int("records", len(ordered)))
			fmt.Printf("Wrote %d records to %s\n", len(ordered), output)
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerCik, "cik", "", "CIK of the reporting owner (insider)")
	cmd.Flags().StringVar(&issuerCik, "issuer-cik", "", "CIK of the issuer to keep")
	cmd.Flags().StringVar(&output, "output", "", "output CSV path (default derived from the data)")
	cmd.Flags().StringVar(&source, "source", "datamule", "acquisition source: datamule or edgar")
	cmd.Flags().IntVar(&maxFilings, "max-filings", 0, "limit the number of filings fetched (0 = all)")
	cmd.Flags().BoolVar(&skipRollups, "skip-rollups", false, "skip exercise-event rollup rows")
	cmd.Flags().BoolVar(&emitZeroSplits, "emit-zero-splits", false, "keep degenerate zero-share split rows")
	cmd.MarkFlagRequired("cik")
	cmd.MarkFlagRequired("issuer-cik")
	return cmd
}

func fetchFilings(ctx context.Context, cache *store.Store, source, ownerCik string, maxFilings int) ([]form4.Filing, error) {
	ctx, span := telemetry.Start(ctx, "fetch."+source)
	defer span.End()

	switch source {
	case "datamule":
		client := datamule.New(cache)
		accessions, err := client.ListAccessions(ctx, ownerCik, 0)
		if err != nil {
			return nil, err
		}
		if maxFilings > 0 && len(accessions) > maxFilings {
			accessions = accessions[:maxFilings]
		}
		return client.FetchAll(ctx, accessions)
	case "edgar":
		client := edgar.New(cache)
		refs, err := client.ListFilings(ctx, ownerCik)
		if err != nil {
			return nil, err
		}
		if maxFilings > 0 && len(refs) > maxFilings {
			refs = refs[:maxFilings]
		}
		return client.FetchAll(ctx, ownerCik, refs)
	default:
		return nil, fmt.Errorf("unknown source %q (want datamule or edgar)", source)
	}
}

// parseAndFilter turns filings into Source records, keeping only the
// requested issuer. Filtering happens before any splitting so another
// issuer's rows can never contaminate the share counters.
func parseAndFilter(ctx context.Context, filings []form4.Filing, issuerCik string) (*models.RecordSet, error) {
	_, span := telemetry.Start(ctx, "parse")
	defer span.End()

	want := strings.TrimLeft(strings.TrimSpace(issuerCik), "0")
	set := &models.RecordSet{}
	for _, f := range filings {
		records, err := form4.ParseFiling(f)
		if err != nil {
			logger.Warn("skipping unparsable filing", zap.String("accession", f.AccessionNumber), zap.Error(err))
			continue
		}
		for _, r := range records {
			if strings.TrimLeft(r.IssuerCik, "0") != want {
				continue
			}
			set.Add(r)
		}
	}
	return set, nil
}

func normalize(ctx context.Context, set *models.RecordSet, skipRollups, emitZeroSplits bool) ([]models.RecordID, error) {
	_, span := telemetry.Start(ctx, "normalize")
	defer span.End()

	res, err := rollup.Normalize(set, nil, rollup.Options{EmitZeroSplits: emitZeroSplits})
	if err != nil {
		return nil, err
	}
	logger.Info("normalized", zap.Int("records", len(res.Ordered)), zap.Int("splits", res.Splits))

	ordered := res.Ordered
	if !skipRollups {
		ordered = rollup.LinkExerciseEvents(set, ordered)
	}
	return rollup.Waterfall(set, ordered), nil
}

func compareCmd() *cobra.Command {
	var (
		oursPath string
		refPath  string
		name     string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare an exported CSV against a CAPIQ reference workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, span := telemetry.Start(cmd.Context(), "compare")
			defer span.End()

			set, ordered, err := export.ReadFile(oursPath)
			if err != nil {
				return err
			}
			logger.Info("loaded our data", zap.Int("records", len(ordered)))

			reference, err := capiq.Load(refPath)
			if err != nil {
				return err
			}
			logger.Info("loaded reference data", zap.Int("records", len(reference)))

			report := reconcile.Compare(set, ordered, reference)
			text := report.Render(name)

			if output == "" {
				fmt.Print(text)
				return nil
			}
			if err := os.WriteFile(output, []byte(text), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote report to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&oursPath, "ours", "", "our exported CSV")
	cmd.Flags().StringVar(&refPath, "reference", "", "CAPIQ xlsx workbook")
	cmd.Flags().StringVar(&name, "name", "Unknown Insider", "insider name for the report header")
	cmd.Flags().StringVar(&output, "output", "", "report file path (prints to stdout when empty)")
	cmd.MarkFlagRequired("ours")
	cmd.MarkFlagRequired("reference")
	return cmd
}
