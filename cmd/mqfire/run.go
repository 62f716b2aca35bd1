package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/torosent/mqfire/internal/config"
	"github.com/torosent/mqfire/internal/dashboard"
	"github.com/torosent/mqfire/internal/lifecycle"
	"github.com/torosent/mqfire/internal/logging"
	"github.com/torosent/mqfire/internal/metrics"
	"github.com/torosent/mqfire/internal/mq"
	"github.com/torosent/mqfire/internal/output"
	"github.com/torosent/mqfire/internal/runner"
	"github.com/torosent/mqfire/internal/script"
	"github.com/torosent/mqfire/internal/threshold"
	"github.com/torosent/mqfire/internal/tracing"
	"github.com/torosent/mqfire/internal/transport"
	"github.com/torosent/mqfire/internal/transport/kafkaq"
	"github.com/torosent/mqfire/internal/transport/redisq"
)

const (
	progressInterval = time.Second
	teardownTimeout  = 30 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// errThresholdsFailed is returned when the run completed but at least one
// threshold did not hold.
var errThresholdsFailed = errors.New("thresholds failed")

func runLoad(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	return execute(ctx, *cfg, stdout, stderr)
}

func execute(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}
	echoOpts, err := toEchoOptions(cfg.Script)
	if err != nil {
		return err
	}

	log, err := logging.NewWithWriter(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			log.WithError(err).Warn("tracing shutdown")
		}
	}()

	collector := metrics.NewCollector()
	prom := metrics.NewPrometheus()
	recorder := metrics.Multi{collector, prom}

	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, prom.Handler(), log)
		if err != nil {
			return err
		}
		defer stop()
	}

	connCfg := toConnectionConfig(cfg.Broker)
	mgr := mq.NewManager(mq.ManagerOptions{
		Logger: log,
		Dialers: map[mq.TransportKind]transport.Dialer{
			mq.TransportRedis: redisq.Dialer{DB: cfg.Broker.RedisDB},
			mq.TransportKafka: kafkaq.Dialer{GroupID: cfg.Broker.KafkaGroupID},
		},
		Recorder: recorder,
	})
	exec := mq.NewExecutor(mq.ExecutorOptions{
		Recorder:  recorder,
		Tracer:    tp.Tracer(),
		Propagate: tp.ShouldPropagate(),
	})
	coord := lifecycle.New(lifecycle.Options{
		Manager:  mgr,
		Executor: exec,
		Config:   connCfg,
		Hooks:    script.Echo(echoOpts),
		Logger:   log,
	})

	log.WithFields(logrus.Fields{
		"transport": connCfg.Transport,
		"broker":    fmt.Sprintf("%s:%d", connCfg.Host, connCfg.Port),
		"queue":     connCfg.Queue,
		"vus":       cfg.VUs,
	}).Info("starting run")

	if err := coord.Setup(ctx); err != nil {
		// Setup may have opened connections before failing.
		tctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if terr := coord.Teardown(tctx); terr != nil {
			log.WithError(terr).Warn("cleanup after failed setup")
		}
		return err
	}

	r := runner.New(runner.Options{
		VUs:           cfg.VUs,
		Iterations:    cfg.Iterations,
		Duration:      cfg.Duration,
		RatePerSecond: cfg.Rate,
		GracefulStop:  cfg.GracefulStop,
		ArrivalModel:  toRunnerArrivalModel(cfg.Arrival.Model),
		LoadPatterns:  toRunnerLoadPatterns(cfg.LoadPatterns),
		NewVU: func(id int) runner.Iteration {
			vu := coord.NewVU(id)
			return runner.IterationFunc(func(ctx context.Context) error {
				return coord.Iterate(ctx, vu)
			})
		},
	})

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	var dash *dashboard.Dashboard
	if cfg.Dashboard {
		dash, err = dashboard.New(collector, dashboardInfo(cfg), mgr.Open, stopRun)
		if err != nil {
			return err
		}
		dash.Start()
	}

	var progress *output.ProgressReporter
	if !cfg.JSONOutput && !cfg.Dashboard {
		progress = output.NewProgressReporter(collector, progressInterval, stdout)
		progress.Start()
	}

	collector.Start()
	result := r.Run(runCtx)
	if result.Cancelled > 0 {
		log.WithField("cancelled", result.Cancelled).Info("iterations cut short when the run ended")
	}
	if dash != nil {
		dash.Stop()
	}
	if progress != nil {
		progress.Stop()
		fmt.Fprintln(stdout)
	}

	var runErr *multierror.Error
	tctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := coord.Teardown(tctx); err != nil {
		log.WithError(err).Error("teardown")
		runErr = multierror.Append(runErr, err)
	}

	stats := collector.Stats(result.Duration)
	results := threshold.NewEvaluator(thresholds).Evaluate(stats)

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, stats, results); err != nil {
			return err
		}
	} else {
		output.PrintReport(stdout, stats)
		output.PrintThresholds(stdout, results)
	}

	for _, res := range results {
		if !res.Pass {
			runErr = multierror.Append(runErr, errThresholdsFailed)
			break
		}
	}
	if result.Errors > 0 {
		runErr = multierror.Append(runErr, fmt.Errorf("%d of %d iterations failed", result.Errors, result.Total))
	}
	return runErr.ErrorOrNil()
}

// serveMetrics exposes handler on addr/metrics until the returned stop
// function is called.
func serveMetrics(addr string, handler http.Handler, log logrus.FieldLogger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server")
		}
	}()
	log.WithField("addr", ln.Addr().String()).Info("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
