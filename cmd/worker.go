package main

import (
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/renovation-report/internal/dispatch"
	"github.com/sells-group/renovation-report/internal/metrics"
	"github.com/sells-group/renovation-report/internal/resilience"
)

var workerMetricsPort int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued reports from Redis or Temporal",
	Long:  "Runs the report pipeline for jobs handed off by `serve` when dispatch.driver is redis or temporal.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Dispatch.Driver == "local" {
			return eris.New("worker requires dispatch.driver redis or temporal; the local driver runs inside serve")
		}

		env, err := initPipeline(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()
		defer logBreakers(env.Breakers)

		if workerMetricsPort > 0 {
			r := chi.NewRouter()
			r.Handle("/metrics", promhttp.Handler())
			go func() {
				if err := listenAndServe(ctx, workerMetricsPort, r); err != nil {
					zap.L().Error("worker: metrics server", zap.Error(err))
				}
			}()
		}

		switch cfg.Dispatch.Driver {
		case "redis":
			rdb, err := newRedisClient(ctx)
			if err != nil {
				return err
			}
			defer rdb.Close() //nolint:errcheck

			q := dispatch.NewRedisQueue(rdb, cfg.Redis.Queue,
				dispatch.WithMaxAttempts(cfg.Dispatch.MaxAttempts),
				dispatch.WithReportFailer(env.Store),
			)
			metrics.RegisterQueueCollector(q)
			n, err := q.RecoverInFlight(ctx)
			if err != nil {
				return eris.Wrap(err, "recover in-flight jobs")
			}
			if n > 0 {
				zap.L().Info("worker: requeued in-flight jobs", zap.Int("count", n))
			}
			return q.Consume(ctx, env.Pipeline, cfg.Dispatch.Workers, cfg.Dispatch.JobTimeout())
		case "temporal":
			c, err := dialTemporal()
			if err != nil {
				return err
			}
			defer c.Close()

			w := dispatch.NewTemporalWorker(c, cfg.Temporal.TaskQueue, env.Pipeline, cfg.Dispatch.Workers)
			if err := w.Start(); err != nil {
				return eris.Wrap(err, "start temporal worker")
			}
			zap.L().Info("worker: temporal worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))
			<-ctx.Done()
			w.Stop()
			return nil
		default:
			return eris.Errorf("dispatch.driver %q is not supported", cfg.Dispatch.Driver)
		}
	},
}

func logBreakers(b *resilience.Breakers) {
	if b == nil {
		return
	}
	for name, state := range b.States() {
		zap.L().Info("worker: breaker state", zap.String("gateway", name), zap.Stringer("state", state))
	}
}

func init() {
	workerCmd.Flags().IntVar(&workerMetricsPort, "metrics-port", 0, "serve /metrics on this port (0 disables)")
	rootCmd.AddCommand(workerCmd)
}
