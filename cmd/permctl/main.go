package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/asakaida/permatrix/internal/infrastructure/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	envFlag         string
	fixtureFlag     string
	batchSizeFlag   int
	logLevelFlag    string
	metricsAddrFlag string

	be     *backend
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "permctl",
	Short: "Compare and bulk-edit object, field and record type permissions",
	Long: `permctl loads the permissions of a selection of objects, fields and
record types across profiles and permission sets, shows them as a matrix and
applies edit scripts to them.

The catalog and records come from PostgreSQL (configured through .env.<env>
and DB_* variables) or, with --fixture, from a YAML fixture held in memory.`,
	PersistentPreRun:  setupBackend,
	PersistentPostRun: teardownBackend,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envFlag, "env", "e", "dev", "Environment to use (dev, test, prod)")
	rootCmd.PersistentFlags().StringVar(&fixtureFlag, "fixture", "", "Serve catalog and records from a YAML fixture instead of PostgreSQL")
	rootCmd.PersistentFlags().IntVar(&batchSizeFlag, "batch-size", 0, "Records per save call (1-200, default from SAVE_BATCH_SIZE)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error; default from LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&metricsAddrFlag, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")

	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(applyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("Failed to execute command: %v", err)
	}
}

func setupBackend(cmd *cobra.Command, args []string) {
	if err := config.InitConfig(envFlag); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	load := config.Load
	if fixtureFlag != "" {
		load = config.LoadWithoutDatabase
	}
	cfg, err := load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if batchSizeFlag != 0 {
		cfg.Save.BatchSize = batchSizeFlag
		if err := cfg.Save.Validate(); err != nil {
			log.Fatalf("Invalid --batch-size: %v", err)
		}
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger = newLogger(os.Stderr, level, cfg.Log.Format)
	slog.SetDefault(logger)

	if fixtureFlag != "" {
		be, err = newFixtureBackend(fixtureFlag, cfg.Save, logger)
	} else {
		be, err = newPostgresBackend(cmd.Context(), cfg, logger)
	}
	if err != nil {
		log.Fatalf("Failed to set up backend: %v", err)
	}

	addr := metricsAddrFlag
	if addr == "" && cfg.Metrics.Enabled {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		be.serveMetrics(addr)
	}
}

func teardownBackend(cmd *cobra.Command, args []string) {
	if be != nil {
		be.Close()
	}
}

// newLogger writes text logs to terminals and JSON everywhere else, unless
// the format is set explicitly
func newLogger(w *os.File, level slog.Level, format string) *slog.Logger {
	return slog.New(newHandler(w, level, format, term.IsTerminal(int(w.Fd()))))
}

func newHandler(w io.Writer, level slog.Level, format string, terminal bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "text":
		return slog.NewTextHandler(w, opts)
	}
	if terminal {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// fatal reports a command failure after releasing the backend
func fatal(format string, args ...any) {
	teardownBackend(nil, nil)
	log.Fatalf(format, args...)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
