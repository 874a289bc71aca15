package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/okian/claimgate/internal/adapters/chain"
	"github.com/okian/claimgate/internal/adapters/eventsink"
	"github.com/okian/claimgate/internal/adapters/http/api"
	"github.com/okian/claimgate/internal/adapters/http/swagger"
	"github.com/okian/claimgate/internal/adapters/mq/worker"
	app "github.com/okian/claimgate/internal/app"
	"github.com/okian/claimgate/internal/config"
	"github.com/okian/claimgate/pkg/logger"
	"github.com/okian/claimgate/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeSlack                = 15 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	loggerInstance := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, loggerInstance); err != nil {
		loggerInstance.Error(ctx, "claimgate exited", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// run wires the service and serves HTTP until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, l logger.Logger) error {
	tx, err := newTransmitter(ctx, cfg, l)
	if err != nil {
		return err
	}
	sink, closeSink := newSink(ctx, cfg, l)
	defer closeSink()

	svc, err := newService(cfg, l, tx, sink)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, cfg, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      cfg.TransferTimeout + writeSlack,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		l.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		l.Info(ctx, "shutting down server...")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	// Graceful shutdown with timeout: drain requests first, then the service.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		l.Error(ctx, "service shutdown failed", logger.Error(err))
		runErr = errors.Join(runErr, err)
	}

	l.Info(ctx, "server stopped")
	return runErr
}

// newTransmitter selects the token transmitter for cfg.ChainMode and paces it.
func newTransmitter(ctx context.Context, cfg *config.Config, l logger.Logger) (chain.Transmitter, error) {
	var tx chain.Transmitter
	switch cfg.ChainMode {
	case config.ChainEVM:
		evm, err := chain.DialEVM(ctx, chain.EVMConfig{
			RPCURL:          cfg.RPCURL,
			PrivateKey:      cfg.PrivateKey,
			TokenAddress:    cfg.TokenAddress,
			MaxFeeGwei:      cfg.MaxFeeGwei,
			PriorityFeeGwei: cfg.PriorityFeeGwei,
			Decimals:        uint8(cfg.TokenDecimals),
		}, l.Named("chain"))
		if err != nil {
			return nil, fmt.Errorf("evm transmitter: %w", err)
		}
		l.Info(ctx, "evm transmitter ready", logger.String("treasury", evm.Treasury().Hex()), logger.String("token", cfg.TokenAddress))
		tx = evm
	default:
		l.Warn(ctx, "using simulated transmitter; no tokens will move")
		tx = chain.NewSimulated(chain.WithFailureRates(cfg.SimFailureRate, cfg.SimUnknownRate))
	}
	return chain.NewPaced(tx, cfg.ChainRPS, cfg.ChainBurst), nil
}

// newSink mirrors confirmed disbursements to Redis when configured, to the
// log otherwise. The returned func releases the sink.
func newSink(ctx context.Context, cfg *config.Config, l logger.Logger) (worker.Sink, func()) {
	if cfg.RedisAddr == "" {
		return eventsink.NewLog(l.Named("events")), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	stream := eventsink.NewRedisStream(rdb, eventsink.WithStream(cfg.RedisStream))
	if err := stream.Ping(ctx); err != nil {
		// The local event log stays authoritative; mirroring retries per event.
		l.Warn(ctx, "redis unreachable at startup", logger.String("addr", cfg.RedisAddr), logger.Error(err))
	}
	return stream, func() { _ = rdb.Close() }
}

// newService builds the orchestrator from configuration.
func newService(cfg *config.Config, l logger.Logger, tx chain.Transmitter, sink worker.Sink) (*app.Service, error) {
	profiles, err := cfg.Profiles()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	opts := []app.Option{
		app.WithLogger(l.Named("service")),
		app.WithDataDir(cfg.DataDir),
		app.WithTransmitter(tx),
		app.WithLocation(loc),
		app.WithTransferTimeout(cfg.TransferTimeout),
		app.WithBusyPolicy(app.BusyPolicy(strings.ToLower(cfg.BusyPolicy)), cfg.BusyWait),
		app.WithSink(sink),
		app.WithWorkerCount(cfg.PublisherWorkers),
		app.WithQueueSize(cfg.PublishQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
	}
	for _, p := range profiles {
		opts = append(opts, app.WithProfile(p))
	}
	return app.New(opts...), nil
}

// newMux registers the API and docs routes.
func newMux(ctx context.Context, cfg *config.Config, svc *app.Service) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	opts := []api.Option{api.WithAdminToken(cfg.AdminToken)}
	if res, err := cfg.OriginResolver(); err == nil {
		opts = append(opts, api.WithOriginResolver(res))
	} else {
		logger.Get().Warn(ctx, "invalid trusted_proxies; falling back to loopback", logger.Error(err))
	}
	api.NewServer(svc, svc, opts...).Register(ctx, mux)
	return mux
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)

	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics updates service-level metrics.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()

	if queueLen, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}
	claimants, okC := stats["claimants"].(int)
	origins, okO := stats["origins"].(int)
	if okC && okO {
		metrics.UpdateRecordCounts(claimants, origins)
	}
	if pending, ok := stats["pending"].(int); ok {
		metrics.UpdatePendingTransfers(pending)
	}
}
