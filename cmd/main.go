package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/posebridge/internal/adapters/http/api"
	"github.com/okian/posebridge/internal/adapters/http/client"
	"github.com/okian/posebridge/internal/adapters/mq/queue"
	"github.com/okian/posebridge/internal/adapters/mq/worker"
	"github.com/okian/posebridge/internal/adapters/shm"
	"github.com/okian/posebridge/internal/adapters/thumbnail"
	service "github.com/okian/posebridge/internal/app"
	"github.com/okian/posebridge/internal/config"
	"github.com/okian/posebridge/internal/domain/cooldown"
	"github.com/okian/posebridge/internal/domain/model"
	"github.com/okian/posebridge/pkg/logger"
	"github.com/okian/posebridge/pkg/metrics"
)

const (
	systemMetricsInterval     = 10 * time.Second
	monitorMetricsInterval    = 5 * time.Second
	stopTimeout               = 15 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	// Load configuration (defaults -> .env -> optional file -> env -> flags)
	cfg, err := config.Load(ctx)
	if err == nil {
		err = parseFlags(os.Args[1:], cfg, os.Stderr)
		if errors.Is(err, flag.ErrHelp) {
			stop()
			return
		}
	}
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		stop()
		os.Exit(2) //nolint:gocritic // stop already called
	}

	code := 0
	if err := run(ctx, cfg, os.Stdout); err != nil {
		logger.Get().Error(ctx, "bridge failed", logger.Error(err))
		code = 1
	}
	stop()
	_ = logger.Sync()
	os.Exit(code)
}

// run wires the bridge from cfg and blocks until ctx is done.
func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	cooldowns, err := cfg.CooldownDurations()
	if err != nil {
		return err
	}
	printStartup(out, cfg, cooldowns)

	mon := newMonitor(cfg, cooldowns, out)
	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		mon.Stop(stopCtx)
		printFinalStats(out, mon.GetStats())
	}()

	go startSystemMetricsUpdater(ctx)
	go startMonitorMetricsUpdater(ctx, mon)

	if cfg.StatusAddr != "" {
		go func() {
			if err := api.NewServer(mon).ListenAndServe(ctx, cfg.StatusAddr); err != nil {
				log.Error(ctx, "status server failed", logger.Error(err))
			}
		}()
	}

	return mon.Run(ctx)
}

// newMonitor assembles the pipeline stages described by cfg.
func newMonitor(cfg *config.Config, cooldowns map[model.PoseClass]time.Duration, out io.Writer) *service.Monitor {
	reader := shm.NewReader(
		shm.WithKey(cfg.ShmKey),
		shm.WithThumbnails(cfg.SendThumbnails),
	)

	filter := cooldown.NewInMemoryFilter(
		cooldown.WithCooldowns(cooldowns),
		cooldown.WithDefaultCooldown(config.Seconds(cfg.DefaultCooldown)),
		cooldown.WithCleanupInterval(cfg.CleanupInterval),
		cooldown.WithMaxAge(cfg.MaxPersonAge),
	)

	q := queue.NewInMemoryQueue()

	sender := client.New(cfg.ServerURL, client.WithTimeout(cfg.RequestTimeout))
	w := worker.NewDeliveryWorker(q, sender,
		worker.WithRetryAttempts(cfg.RetryAttempts),
		worker.WithRetryBackoff(cfg.RetryBackoff),
	)

	opts := []service.Option{
		service.WithFilter(filter),
		service.WithQueue(q),
		service.WithWorker(w),
		service.WithUnit(cfg.UnitID, cfg.UnitName, cfg.RTSPURIs),
		service.WithPollInterval(cfg.PollInterval),
		service.WithErrorBackoff(cfg.ErrorBackoff),
		service.WithSummaryRate(cfg.SummaryRate),
		service.WithSummaryWriter(out),
		service.WithDetailed(cfg.Detailed),
		service.WithCooldownClock(cfg.CooldownClock),
	}
	if cfg.SendThumbnails {
		opts = append(opts, service.WithThumbnails(thumbnail.New(
			thumbnail.WithFormat(cfg.ThumbnailFormat),
			thumbnail.WithMaxWidth(cfg.ThumbnailMaxWidth),
			thumbnail.WithQuality(cfg.ThumbnailQuality),
		)))
	}

	return service.New(reader, opts...)
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

// startMonitorMetricsUpdater keeps the queue gauge current between deliveries.
func startMonitorMetricsUpdater(ctx context.Context, mon *service.Monitor) {
	ticker := time.NewTicker(monitorMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateMonitorMetrics(mon)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystem(m.Alloc, runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

func updateMonitorMetrics(mon *service.Monitor) {
	stats := mon.GetStats()
	if n, ok := stats["queue_length"].(int); ok {
		metrics.UpdateQueueSize(n)
	}
	if n, ok := stats["tracked_persons"].(int); ok {
		metrics.UpdateTrackedPersons(n)
	}
}
