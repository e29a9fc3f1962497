package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/renovation-report/internal/api"
	"github.com/sells-group/renovation-report/internal/classify"
	"github.com/sells-group/renovation-report/internal/dispatch"
	"github.com/sells-group/renovation-report/internal/freshness"
	"github.com/sells-group/renovation-report/internal/metrics"
	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/internal/monitoring"
	"github.com/sells-group/renovation-report/internal/store"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the report submission API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		var (
			st         store.Store
			classifier *classify.Classifier
			dispatcher dispatch.Dispatcher
		)

		switch cfg.Dispatch.Driver {
		case "local":
			env, err := initPipeline(ctx, "serve")
			if err != nil {
				return err
			}
			defer env.Close()
			st, classifier = env.Store, env.Classifier

			pool := dispatch.NewLocalPool(env.Pipeline, cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, cfg.Dispatch.JobTimeout())
			pool.Start(ctx)
			defer pool.Close() //nolint:errcheck
			dispatcher = pool

			if n, err := redispatchUnfinished(ctx, st, pool); err != nil {
				zap.L().Warn("serve: redispatch unfinished reports", zap.Int("redispatched", n), zap.Error(err))
			} else if n > 0 {
				zap.L().Info("serve: redispatched unfinished reports", zap.Int("count", n))
			}
		case "redis":
			s, err := requireStore(ctx, "serve")
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck
			st = s

			rdb, err := newRedisClient(ctx)
			if err != nil {
				return err
			}
			defer rdb.Close() //nolint:errcheck
			q := dispatch.NewRedisQueue(rdb, cfg.Redis.Queue)
			metrics.RegisterQueueCollector(q)
			dispatcher = q
		case "temporal":
			s, err := requireStore(ctx, "serve")
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck
			st = s

			c, err := dialTemporal()
			if err != nil {
				return err
			}
			defer c.Close()
			dispatcher = dispatch.NewTemporalDispatcher(c, cfg.Temporal.TaskQueue, cfg.Dispatch.JobTimeoutMins)
		default:
			return cfg.Validate("serve")
		}

		if classifier == nil {
			// Discovery runs in the worker; the API only validates input.
			classifier = classify.New(cfg.Pipeline.AllowedHosts, nil, st)
		}

		if cfg.Dispatch.StaleAfterMins > 0 {
			sweeper := monitoring.NewSweeper(st,
				time.Duration(cfg.Dispatch.StaleAfterMins)*time.Minute,
				time.Duration(cfg.Dispatch.SweepIntervalSecs)*time.Second,
			)
			go sweeper.Run(ctx)
		}

		handler := api.New(st, classifier, freshness.New(st), dispatcher, api.Options{
			CORSOrigins:   cfg.Server.CORSOrigins,
			FreshnessDays: cfg.Pipeline.FreshnessDays,
		}).Handler()

		return listenAndServe(ctx, cfg.Server.Port, handler)
	},
}

func listenAndServe(ctx context.Context, port int, handler http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", port), zap.String("dispatch", cfg.Dispatch.Driver))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

// redispatchUnfinished queues reports a previous in-process pool never
// finished. Processing reports resume where their last write left off.
func redispatchUnfinished(ctx context.Context, st store.Store, d dispatch.Dispatcher) (int, error) {
	n := 0
	for _, status := range []model.ReportStatus{model.StatusProcessing, model.StatusPending} {
		reports, err := st.ListReports(ctx, store.ReportFilter{Status: status, Limit: 1000})
		if err != nil {
			return n, eris.Wrapf(err, "list %s reports", status)
		}
		for _, r := range reports {
			if err := d.Dispatch(ctx, r.ID); err != nil {
				return n, eris.Wrapf(err, "dispatch report %s", r.ID)
			}
			n++
		}
	}
	return n, nil
}

func newRedisClient(ctx context.Context) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrapf(err, "redis ping %s", cfg.Redis.Addr)
	}
	return rdb, nil
}

func dialTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "temporal dial %s", cfg.Temporal.HostPort)
	}
	return c, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
