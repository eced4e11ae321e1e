package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/balancoor/pkg/fsutil"
	"github.com/ethpandaops/balancoor/pkg/history"
	"github.com/ethpandaops/balancoor/pkg/model"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and manage recorded execution times",
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats CONFIG_FILE [TEST_ID...]",
	Short: "Print duration statistics per test",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHistoryStats,
}

var historyImportCmd = &cobra.Command{
	Use:   "import CONFIG_FILE LEGACY_JSON",
	Short: "Import a flat {\"test\": seconds} timing file into the history backend",
	Args:  cobra.ExactArgs(2),
	RunE:  runHistoryImport,
}

func init() {
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyImportCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistoryStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, backend := openHistory(ctx, cfg, nil)
	defer closeHistory(backend)

	ids := args[1:]
	if len(ids) == 0 {
		ids = store.Tests()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TEST\tSAMPLES\tMEAN\tMEDIAN\tSTDDEV\tMIN\tMAX\tESTIMATE")

	for _, id := range ids {
		estimate := store.Estimate(id)

		stats, ok := store.Stats(id)
		if !ok {
			_, _ = fmt.Fprintf(w, "%s\t0\t-\t-\t-\t-\t-\t%s\n", id, units.HumanDuration(estimate))

			continue
		}

		_, _ = fmt.Fprintf(w, "%s\t%d\t%.2fs\t%.2fs\t%.2fs\t%.2fs\t%.2fs\t%s\n",
			id, stats.SampleCount, stats.Mean, stats.Median, stats.StdDev,
			stats.Min, stats.Max, units.HumanDuration(estimate))
	}

	return w.Flush()
}

func runHistoryImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}

	owner, err := fsutil.ParseOwner(cfg.ResultsOwner)
	if err != nil {
		return fmt.Errorf("%w: parsing results_owner: %w", model.ErrConfiguration, err)
	}

	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("reading legacy file: %w", err)
	}

	doc, err := history.DecodeLegacy(data, time.Now())
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, backend := openHistory(ctx, cfg, owner)
	defer closeHistory(backend)

	if backend == nil {
		return fmt.Errorf("%w: history backend unavailable", model.ErrHistoryStore)
	}

	n, err := store.Import(doc)
	if err != nil {
		return err
	}

	if err := store.Persist(ctx, backend); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"records": n,
		"backend": backend.Name(),
	}).Info("Legacy timings imported")

	return nil
}
