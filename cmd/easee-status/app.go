package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kubejarvis/easee-status/internal/collector"
	"github.com/kubejarvis/easee-status/internal/config"
	"github.com/kubejarvis/easee-status/internal/easee"
	"github.com/kubejarvis/easee-status/internal/reporter"
	"github.com/kubejarvis/easee-status/internal/resource"
	"github.com/kubejarvis/easee-status/internal/scheduler"
	"github.com/kubejarvis/easee-status/internal/server"
)

// cycleTaskID is the ID of the collect-and-report task
const cycleTaskID = "easee-backup"

// App represents the main application
type App struct {
	cfg               *config.Config
	credentials       *config.CredentialStore
	client            *easee.Client
	collectorRegistry collector.Registry
	reporter          *reporter.Reporter
	scheduler         *scheduler.IntervalScheduler
	taskMonitor       *scheduler.TaskMonitor
	resources         *resource.Monitor
	ctx               context.Context
	cancel            context.CancelFunc
	logger            *zap.Logger
}

// NewApp creates a new application instance
func NewApp(cfg *config.Config, logger *zap.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// initCommon sets up what both modes share: credentials, API client and resource monitor
func (a *App) initCommon() error {
	a.credentials = config.NewCredentialStore(a.cfg.Easee, a.logger.With(zap.String("module", "credentials")))
	a.client = easee.NewClient(a.cfg.Easee, a.credentials, a.logger)

	// new credentials invalidate the tokens obtained with the old ones
	a.credentials.Subscribe(func() {
		a.client.Session().Clear()
	})

	resources, err := resource.NewMonitor(a.logger, resource.DefaultUpdateInterval)
	if err != nil {
		// health output degrades, the exporter keeps working
		a.logger.Warn("Resource monitor unavailable", zap.Error(err))
	}
	a.resources = resources

	a.logger.Info("Easee client initialized",
		zap.String("api", a.cfg.Easee.BaseURL),
		zap.String("credentials", a.credentials.Source()))
	return nil
}

// Initialize initializes the collect-and-report pipeline
func (a *App) Initialize(ctx context.Context) error {
	if err := a.initCommon(); err != nil {
		return err
	}

	a.collectorRegistry = collector.NewRegistry()
	if err := collector.RegisterDefaultCollectors(a.collectorRegistry, a.client,
		a.cfg.InfluxDB.Measurement, a.cfg.Interval, a.logger); err != nil {
		return fmt.Errorf("failed to register collectors: %w", err)
	}

	sinks, err := a.initSinks(ctx)
	if err != nil {
		return err
	}

	return a.initPipeline(ctx, sinks)
}

// initPipeline builds reporter, executor and scheduler on top of sinks. The
// sinks are closed when the pipeline cannot be built.
func (a *App) initPipeline(ctx context.Context, sinks []reporter.Sink) error {
	spool := reporter.NewSpool(a.cfg.Spool.Dir, a.cfg.Spool.MaxEntries, a.cfg.Spool.MaxAge, a.logger)
	a.reporter = reporter.NewReporter(sinks, spool, reporter.DefaultOptions(), a.logger)

	executor := scheduler.NewCycleExecutor(a.collectorRegistry, a.reporter, a.logger)
	a.taskMonitor = scheduler.NewTaskMonitor()
	a.scheduler = scheduler.New(executor, a.taskMonitor, a.logger)

	task := &scheduler.Task{
		ID:       cycleTaskID,
		Name:     "Easee charger state backup",
		Interval: a.cfg.Interval,
	}
	if err := a.scheduler.Add(ctx, task); err != nil {
		a.closeSinks(sinks)
		return fmt.Errorf("failed to add task %s: %w", task.ID, err)
	}

	return nil
}

func (a *App) closeSinks(sinks []reporter.Sink) {
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			a.logger.Warn("Failed to close sink", zap.String("sink", sink.Name()), zap.Error(err))
		}
	}
}

// initSinks creates the InfluxDB sink and, when configured, the ClickHouse sink
func (a *App) initSinks(ctx context.Context) ([]reporter.Sink, error) {
	influx, err := reporter.NewInfluxSink(a.cfg.InfluxDB, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB sink: %w", err)
	}
	sinks := []reporter.Sink{influx}

	if a.cfg.ClickHouse.Enabled() {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		ch, err := reporter.NewClickHouseSink(connectCtx, a.cfg.ClickHouse, a.logger)
		if err != nil {
			// optional sink; InfluxDB alone keeps the exporter useful
			a.logger.Error("ClickHouse sink disabled",
				zap.String("addr", a.cfg.ClickHouse.Addr),
				zap.Error(err))
		} else {
			sinks = append(sinks, ch)
		}
	}

	return sinks, nil
}

// Start starts the application
func (a *App) Start() error {
	a.logger.Info("Starting Easee status exporter...")

	if err := a.credentials.Watch(a.ctx); err != nil {
		// env credentials or an unmounted file: changes are picked up on restart only
		a.logger.Warn("Credentials file is not watched", zap.Error(err))
	}

	if a.resources != nil {
		go a.resources.Start(a.ctx)
	}

	if err := a.reporter.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start reporter: %w", err)
	}

	// a signal must not abort a cycle mid-write; Stop waits for it instead
	if err := a.scheduler.Start(context.WithoutCancel(a.ctx)); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	a.logger.Info("Easee status exporter started successfully",
		zap.Duration("interval", a.cfg.Interval))
	return nil
}

// Stop waits for the running cycle, persists the spool and closes every sink
func (a *App) Stop() error {
	a.logger.Info("Stopping Easee status exporter...")

	var errs []error
	if err := a.scheduler.Stop(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop scheduler: %w", err))
	}

	if err := a.reporter.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop reporter: %w", err))
	}

	a.shutdownCommon()

	metrics := a.reporter.GetMetrics()
	a.logger.Info("Easee status exporter stopped",
		zap.Any("cycles", a.taskMonitor.GetTaskMetrics(cycleTaskID)),
		zap.Int64("samples_written", metrics.SamplesWritten),
		zap.Int("samples_spooled", a.reporter.GetSpoolStats().Size))

	return errors.Join(errs...)
}

func (a *App) shutdownCommon() {
	if a.cancel != nil {
		a.cancel()
	}

	if err := a.credentials.Close(); err != nil {
		a.logger.Warn("Failed to close credentials watcher", zap.Error(err))
	}

	if a.resources != nil {
		a.resources.Stop()
		a.resources.LogSummary()
	}
}

// Run runs the pipeline until SIGINT or SIGTERM
func (a *App) Run(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.Initialize(a.ctx); err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}

	if err := a.Start(); err != nil {
		return fmt.Errorf("failed to start app: %w", err)
	}

	<-a.ctx.Done()
	a.logger.Info("Received interrupt signal")

	return a.Stop()
}

// Serve runs the HTTP server until SIGINT or SIGTERM
func (a *App) Serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.initCommon(); err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}

	if err := a.credentials.Watch(a.ctx); err != nil {
		a.logger.Warn("Credentials file is not watched", zap.Error(err))
	}

	var resources server.ResourceReporter
	if a.resources != nil {
		go a.resources.Start(a.ctx)
		resources = a.resources
	}

	srv := server.New(a.cfg.Server, a.client, resources, a.logger)
	err := srv.Run(a.ctx)

	a.shutdownCommon()
	return err
}
