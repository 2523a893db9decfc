package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/i474232898/weather-anomaly-pipeline/internal/anomaly"
	"github.com/i474232898/weather-anomaly-pipeline/internal/config"
	"github.com/i474232898/weather-anomaly-pipeline/internal/logging"
	"github.com/i474232898/weather-anomaly-pipeline/internal/rollup"
	"github.com/i474232898/weather-anomaly-pipeline/internal/store"
	"github.com/i474232898/weather-anomaly-pipeline/internal/weather"
	"github.com/i474232898/weather-anomaly-pipeline/internal/weather/providers"
)

// app holds what every sub-command shares. It is filled by the root PersistentPreRunE.
type app struct {
	cfg    *config.AppConfig
	logger *zap.Logger

	dbPath    string
	storeKind string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "weather-pipeline",
		Short:         "Weather ingestion, rollup and anomaly detection",
		Long:          "Collects current conditions per city, builds hourly/daily rollups and flags unusual day-over-day temperature changes.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&a.storeKind, "store", "sqlite", "storage backend (sqlite, memory)")

	rootCmd.AddCommand(
		a.ingestCmd(),
		a.aggregateCmd(),
		a.anomaliesCmd(),
		a.runCmd(),
		a.serveCmd(),
	)
	return rootCmd
}

func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return fmt.Errorf("%w: build logger: %v", config.ErrConfig, err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// openStore opens the configured backend. Analysis stages pass create=false so that a
// missing database is reported instead of silently analysed as empty.
func (a *app) openStore(create bool) (weather.Storage, error) {
	switch a.storeKind {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.OpenSQLite(a.cfg.DBPath, create)
	default:
		return nil, fmt.Errorf("%w: unknown store %q", config.ErrConfig, a.storeKind)
	}
}

func (a *app) newService(st weather.Storage) (*weather.Service, error) {
	if err := a.cfg.RequireSource(); err != nil {
		return nil, err
	}
	client := &http.Client{}
	provider := providers.NewWeatherAPIProvider(client, a.cfg.BaseURL, a.cfg.APIKey, a.cfg.Retry(), a.logger)
	return weather.NewService(st, provider, a.logger.Named("ingest"), weather.WithWorkers(a.cfg.Workers)), nil
}

func (a *app) newEngine(st weather.Storage) *rollup.Engine {
	return rollup.NewEngine(st, a.logger.Named("rollup"))
}

func (a *app) newDetector(st weather.Storage, threshold float64) *anomaly.Detector {
	if threshold <= 0 {
		threshold = a.cfg.ZThreshold
	}
	return anomaly.NewDetector(st, threshold, a.logger.Named("anomaly"))
}

// noData reports an empty input table. It is a successful outcome.
func noData(cmd *cobra.Command, err error) error {
	if errors.Is(err, weather.ErrNoData) {
		fmt.Fprintln(cmd.OutOrStdout(), "no data: nothing to process yet")
		return nil
	}
	return err
}
