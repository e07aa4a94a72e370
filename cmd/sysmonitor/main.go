package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"codeberg.org/mutker/sysmonitor/internal/collector"
	"codeberg.org/mutker/sysmonitor/internal/config"
	"codeberg.org/mutker/sysmonitor/internal/errors"
	"codeberg.org/mutker/sysmonitor/internal/gpu"
	"codeberg.org/mutker/sysmonitor/internal/history"
	"codeberg.org/mutker/sysmonitor/internal/logger"
	"codeberg.org/mutker/sysmonitor/internal/monitor"
	"codeberg.org/mutker/sysmonitor/internal/pid"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "sysmonitor",
		Short: "Continuous host health monitor",
		Long: `sysmonitor samples CPU, memory, disk, network, load average and
temperature sensors at a fixed interval and writes one log line per sample.
Lines are warnings when a value crosses its threshold.

Configuration is read from flags, SYSMONITOR_* environment variables and
/etc/sysmonitor.toml, in that order of precedence.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd)
		},
	}
	config.RegisterFlags(root.PersistentFlags())
	root.AddCommand(historyCommand())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logger()); err != nil {
		return err
	}
	defer func() {
		if err := logger.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
	}()
	logger.Debug().Msg("Config loaded")

	if cfg.PIDFile != "" {
		if err := pid.Write(cfg.PIDFile); err != nil {
			var coded errors.Error
			if errors.As(err, &coded) {
				logger.ErrorWithCode(coded).Str("pid_file", cfg.PIDFile).Msg("Failed to write PID file")
			}
			return err
		}
		defer func() {
			if err := pid.Remove(cfg.PIDFile); err != nil {
				logger.Warn().Err(err).Msg("Failed to remove PID file")
			}
		}()
	}

	var opts []collector.Option
	if cfg.GPU {
		sensors, err := gpu.New(logger.Default())
		switch {
		case err == nil:
			defer func() {
				if err := sensors.Shutdown(); err != nil {
					logger.Warn().Err(err).Msg("Failed to shut down NVML")
				}
			}()
			opts = append(opts, collector.WithTemperatureSource(sensors))
		case errors.HasCode(err, errors.ErrUnavailable):
			logger.Debug().Err(err).Msg("No NVIDIA GPU available, skipping GPU temperatures")
		default:
			logger.Warn().Err(err).Msg("Failed to initialize GPU sensors")
		}
	}

	rec, err := history.NewService(historyConfig(cfg), logger.Default())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize history")
		return err
	}
	defer func() {
		if err := rec.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close history")
		}
	}()

	runner, err := monitor.NewRunner(
		collector.New(opts...),
		monitor.NewEvaluator(cfg.Thresholds()),
		monitor.NewLogSink(logger.Default()),
		cfg.IntervalDuration(),
		monitor.WithRecorder(rec),
	)
	if err != nil {
		return err
	}

	if err := runner.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Error in main loop")
		return errors.New().Wrap(errors.ErrMainLoop, err)
	}

	return nil
}

func historyConfig(cfg *config.Config) history.Config {
	hc := history.DefaultConfig()
	hc.Enabled = cfg.History
	hc.DBPath = cfg.HistoryDB
	hc.RetentionDays = cfg.HistoryRetention

	return hc
}

func historyCommand() *cobra.Command {
	var (
		limit         int
		anomalousOnly bool
	)

	cmd := &cobra.Command{
		Use:          "history",
		Short:        "Print the most recent recorded samples",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}

			hc := historyConfig(cfg)
			hc.Enabled = true
			hc.RetentionDays = 0
			repo, err := history.NewRepository(hc, logger.Nop())
			if err != nil {
				return err
			}
			defer repo.Close()

			samples, err := repo.Recent(limit, anomalousOnly)
			if err != nil {
				return err
			}

			printSamples(cmd, samples)

			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of samples to print")
	cmd.Flags().BoolVar(&anomalousOnly, "anomalies", false, "only print samples with anomalies")

	return cmd
}

func printSamples(cmd *cobra.Command, samples []history.Sample) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCPU%\tMEM%\tLOAD1\tMAX TEMP\tANOMALIES")

	for _, s := range samples {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			s.Timestamp.Format(time.DateTime),
			formatFloat(s.CPUPercent, "%.1f"),
			formatFloat(s.MemoryPercent, "%.1f"),
			formatFloat(s.Load1, "%.2f"),
			formatFloat(s.MaxTemp, "%.1f"),
			len(s.Anomalies),
		)
		for _, a := range s.Anomalies {
			fmt.Fprintf(tw, "\t\t\t\t\t%s\n", a.Detail)
		}
	}

	_ = tw.Flush()
}

func formatFloat(v *float64, format string) string {
	if v == nil {
		return "N/A"
	}

	return fmt.Sprintf(format, *v)
}
