package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/weather-anomaly-pipeline/internal/api/http"
	"github.com/i474232898/weather-anomaly-pipeline/internal/pipeline"
	"github.com/i474232898/weather-anomaly-pipeline/internal/rollup"
	"github.com/i474232898/weather-anomaly-pipeline/internal/scheduler"
	"github.com/i474232898/weather-anomaly-pipeline/internal/weather"
)

func (a *app) ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion sweep over the configured cities",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(true)
			if err != nil {
				return err
			}
			defer st.Close()

			svc, err := a.newService(st)
			if err != nil {
				return err
			}
			report := svc.Sweep(cmd.Context(), a.cfg.Targets())
			for _, r := range report.Results {
				line := fmt.Sprintf("%-20s %s", r.Target.Key(), r.State)
				if r.Duplicate {
					line += " (duplicate)"
				}
				if r.Err != nil {
					line += ": " + r.Err.Error()
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d persisted, %d duplicates, %d skipped\n",
				report.RunID, report.Persisted, report.Duplicates, report.Skipped)
			return nil
		},
	}
}

func (a *app) aggregateCmd() *cobra.Command {
	var (
		mode  string
		since string
	)
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Build the hourly and daily rollup tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := rollup.ParseMode(mode)
			if err != nil {
				return err
			}
			scope := rollup.Full()
			if m == rollup.ModeIncremental {
				var from time.Time
				if since != "" {
					if from, err = time.Parse(time.RFC3339, since); err != nil {
						return fmt.Errorf("invalid --since %q: %w", since, err)
					}
				}
				scope = rollup.Since(from)
			}

			st, err := a.openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			results, err := a.newEngine(st).BuildAll(cmd.Context(), scope)
			if err != nil {
				return noData(cmd, err)
			}
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %d buckets, %d rows written\n", r.Table, r.Mode, r.Buckets, r.Rows)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(rollup.ModeFull), "refresh mode (full, incremental)")
	cmd.Flags().StringVar(&since, "since", "", "incremental window start, RFC3339 ingestion time (default: all rows)")
	return cmd
}

func (a *app) anomaliesCmd() *cobra.Command {
	var (
		threshold float64
		output    string
	)
	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "Flag unusual day-over-day temperature changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			report, err := a.newDetector(st, threshold).Run(cmd.Context())
			if err != nil {
				return noData(cmd, err)
			}

			if output == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report.Alerts)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "analysed %d days across %d cities\n", report.Rows, report.Cities)
			if len(report.Alerts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no anomalies detected; behaviour within normal range")
				return nil
			}
			for _, al := range report.Alerts {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s  change %+.2f°C  severity %.2f\n",
					al.City, al.Date, *al.TempChange, *al.Severity)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "|z| above which a day is flagged (default ANOMALY_Z_THRESHOLD)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json)")
	return cmd
}

func (a *app) newPipeline(st weather.Storage, full bool) (*pipeline.Pipeline, error) {
	svc, err := a.newService(st)
	if err != nil {
		return nil, err
	}
	var opts []pipeline.Option
	if full {
		opts = append(opts, pipeline.WithFullRebuild())
	}
	return pipeline.New(svc, a.newEngine(st), a.newDetector(st, 0), a.cfg.Targets(), a.logger, opts...), nil
}

func (a *app) runCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one full cycle: ingest, aggregate, detect anomalies",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(true)
			if err != nil {
				return err
			}
			defer st.Close()

			p, err := a.newPipeline(st, full)
			if err != nil {
				return err
			}
			res, err := p.RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d persisted, %d skipped, %d alerts\n",
				res.Sweep.RunID, res.Sweep.Persisted, res.Sweep.Skipped, len(res.Anomalies.Alerts))
			return err
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "rebuild rollups from scratch instead of refreshing touched buckets")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	var noSchedule bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled pipeline and the read API",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(true)
			if err != nil {
				return err
			}
			defer st.Close()

			svc, err := a.newService(st)
			if err != nil {
				return err
			}

			if !noSchedule {
				p := pipeline.New(svc, a.newEngine(st), a.newDetector(st, 0), a.cfg.Targets(), a.logger)
				sched := scheduler.New(p, a.cfg.FetchInterval, a.cfg.ScheduleCron, a.cfg.FetchInterval, a.logger)
				if err := sched.Start(); err != nil {
					return fmt.Errorf("failed to start scheduler: %w", err)
				}
				defer sched.Stop()
			}

			return a.listen(cmd.Context(), svc, st)
		},
	}
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "serve the read API only")
	return cmd
}

func (a *app) listen(ctx context.Context, svc *weather.Service, st weather.Storage) error {
	srv := fiber.New(fiber.Config{
		AppName:               "weather-pipeline",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	srv.Use(logger.New())
	srv.Use(recover.New())

	srv.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-pipeline",
		})
	})

	httpapi.RegisterRoutes(srv, svc, st)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("port", a.cfg.Port))
		errCh <- srv.Listen(":" + a.cfg.Port)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("fiber server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.ShutdownWithContext(shutdownCtx); err != nil {
		a.logger.Error("error during shutdown", zap.Error(err))
	}
	return nil
}
