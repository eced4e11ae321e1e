package main

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/balancoor/pkg/collector"
	"github.com/ethpandaops/balancoor/pkg/config"
	"github.com/ethpandaops/balancoor/pkg/discovery"
	"github.com/ethpandaops/balancoor/pkg/dispatcher"
	"github.com/ethpandaops/balancoor/pkg/events"
	"github.com/ethpandaops/balancoor/pkg/fsutil"
	"github.com/ethpandaops/balancoor/pkg/history"
	"github.com/ethpandaops/balancoor/pkg/model"
	"github.com/ethpandaops/balancoor/pkg/runner"
	"github.com/ethpandaops/balancoor/pkg/scheduler"
)

var (
	dryRun        bool
	dryRunSpeedup float64
)

var runCmd = &cobra.Command{
	Use:   "run CONFIG_FILE [TEST_SUITES_DIR]",
	Short: "Run all test cases across the configured servers",
	Long: `Discover every tst_* test case under the test suites directory, schedule them
across the configured squishservers and run them. Exits 0 when every test
passed, 1 when any test failed, errored or was abandoned, and 2 on fatal
configuration or scheduling errors.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runTests,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"simulate test execution from estimates instead of invoking squishrunner")
	runCmd.Flags().Float64Var(&dryRunSpeedup, "dry-run-speedup", 100,
		"divide simulated durations by this factor")
}

func runTests(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}

	if len(args) > 1 {
		cfg.TestSuitesDir = args[1]
	}

	if err := cfg.Validate(config.ValidateOpts{DryRun: dryRun}); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if dump, err := cfg.Dump(); err == nil {
		log.Debugf("Effective configuration:\n%s", dump)
	}

	servers, err := cfg.ParsedServers()
	if err != nil {
		return err
	}

	owner, err := fsutil.ParseOwner(cfg.ResultsOwner)
	if err != nil {
		return fmt.Errorf("%w: parsing results_owner: %w", model.ErrConfiguration, err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, backend := openHistory(ctx, cfg, owner)
	defer closeHistory(backend)

	tests, err := discovery.Find(log, cfg.TestSuitesDir)
	if err != nil {
		return err
	}

	if len(tests) == 0 {
		return fmt.Errorf("%w: no test cases found in %s", model.ErrConfiguration, cfg.TestSuitesDir)
	}

	sched := scheduler.NewLPT(log, store)

	assignment, err := sched.Schedule(tests, servers)
	if err != nil {
		return fmt.Errorf("scheduling: %w", err)
	}

	logAssignment(assignment)

	var r runner.Runner
	if dryRun {
		log.WithField("speedup", dryRunSpeedup).Info("Dry run, simulating test execution")

		r = runner.NewSimulated(store, dryRunSpeedup)
	} else {
		r = runner.NewSquishRunner(log, &cfg.Runner, cfg.Dispatch.ProbeTimeout, cfg.TestSuitesDir)
	}

	// Simulated durations must not end up in history.
	var sink history.Sink
	if backend != nil && !dryRun {
		sink = backend
	}

	bus := events.NewBus(events.NewLogListener(log))
	d := dispatcher.NewDispatcher(log, &cfg.Dispatch, r, sched, bus)
	c := collector.NewCollector(log, store, sink, cfg.History.PersistEvery, servers)

	summary, err := c.Collect(ctx, assignment.Total(), d.Run(ctx, assignment))
	if err != nil {
		log.WithError(err).Warn("Failed to persist history")
	}

	collector.LogSummary(log, summary)

	if cfg.ResultsFile != "" {
		if err := collector.WriteSummary(cfg.ResultsFile, owner, summary); err != nil {
			log.WithError(err).Warn("Failed to write results file")
		} else {
			log.WithField("path", cfg.ResultsFile).Info("Results written")
		}
	}

	if code := summary.ExitCode(); code != collector.ExitOK {
		return &exitError{code: code}
	}

	return nil
}

func logAssignment(a *scheduler.Assignment) {
	for _, s := range a.Servers {
		log.WithFields(logrus.Fields{
			"server":   s.Endpoint(),
			"tests":    len(a.Queue(s)),
			"estimate": units.HumanDuration(a.Loads[s.Endpoint()]),
		}).Info("Server queue planned")
	}

	log.WithFields(logrus.Fields{
		"tests":    a.Total(),
		"makespan": units.HumanDuration(a.Makespan()),
	}).Info("Schedule ready")
}
