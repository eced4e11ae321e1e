package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/balancoor/pkg/collector"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	logLevel string
	verbose  bool
	log      *logrus.Logger
)

// exitError carries a process exit code out of a command without being
// reported as a failure of the command itself.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

func main() {
	log = logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	os.Exit(exitCode(rootCmd.Execute()))
}

// exitCode maps a command error to the process exit code. Anything that is
// not an exitError aborted the run before or instead of dispatching.
func exitCode(err error) int {
	if err == nil {
		return collector.ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}

	log.WithError(err).Error("Failed to execute command")

	return collector.ExitFatal
}

var rootCmd = &cobra.Command{
	Use:   "balancoor",
	Short: "Distribute Squish test cases across a pool of squishservers",
	Long: `Balancoor runs Squish test cases on several squishservers in parallel.
It uses recorded execution times to balance the per-server queues so the whole
run finishes as early as possible, and moves queued work away from servers that
become unreachable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}

		if verbose {
			level = logrus.DebugLevel
		}

		log.SetLevel(level)

		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("balancoor %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level ("+strings.Join(logLevels(), ", ")+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging (overrides --log-level)")

	rootCmd.AddCommand(versionCmd)
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}

	return levels
}
