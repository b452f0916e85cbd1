package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/coachboard/internal/adapters/http/api"
	"github.com/okian/coachboard/internal/adapters/http/swagger"
	"github.com/okian/coachboard/internal/adapters/mq/publisher"
	repository "github.com/okian/coachboard/internal/adapters/repository"
	service "github.com/okian/coachboard/internal/app"
	"github.com/okian/coachboard/internal/config"
	"github.com/okian/coachboard/pkg/logger"
	"github.com/okian/coachboard/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 20 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	systemMetricsInterval  = 10 * time.Second
	serviceMetricsInterval = 5 * time.Second
	indexTimeout           = 30 * time.Second
)

type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> .env -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use stderr since the logger format is part of the config
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	store, err := repository.Open(ctx, cfg)
	if err != nil {
		log.Error(ctx, "failed to open store", logger.Error(err))
		os.Exit(1)
	}
	ensureIndexes(ctx, store)

	pub := publisher.New(cfg.KafkaBrokers, cfg.KafkaTopic)

	svc := newService(cfg, store, pub)
	if err := svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		os.Exit(1)
	}

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(ctx, cfg, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("store", cfg.Driver()),
			logger.Bool("changeFeed", len(cfg.KafkaBrokers) > 0))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	svc.Stop()
	if err := pub.Close(); err != nil {
		log.Warn(shutdownCtx, "publisher close failed", logger.Error(err))
	}
	if err := store.Close(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "store close failed", logger.Error(err))
	}

	log.Info(shutdownCtx, "server stopped")
}

// newService wires the service from configuration.
func newService(cfg *config.Config, store repository.Store, pub publisher.Publisher) *service.Service {
	return service.New(store,
		service.WithLogger(logger.Get()),
		service.WithPublisher(pub),
		service.WithAthleteListLimit(cfg.AthleteListLimit),
		service.WithEvaluationListLimit(cfg.EvaluationListLimit),
		service.WithDefaultCoach(cfg.DefaultCoachName),
		service.WithPlaceholderCoach(cfg.PlaceholderCoachName),
		service.WithWorkerCount(cfg.PropagationWorkers),
		service.WithQueueSize(cfg.PropagationQueueSize),
		service.WithDedupeSize(cfg.PropagationDedupeSize),
		service.WithRetryPolicy(cfg.PropagationMaxAttempts, time.Duration(cfg.PropagationRetryDelayMS)*time.Millisecond),
	)
}

// newRouter mounts the API and the documentation pages.
func newRouter(ctx context.Context, cfg *config.Config, svc *service.Service) chi.Router {
	r := api.NewServer(svc,
		api.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		api.WithRequestTimeout(time.Duration(cfg.RequestTimeoutS)*time.Second),
	).Router(ctx)
	swagger.Register(ctx, r)
	return r
}

// ensureIndexes creates backend indexes when the store supports them.
// Failures are logged; the store still works without them.
func ensureIndexes(ctx context.Context, store repository.Store) {
	ix, ok := store.(indexer)
	if !ok {
		return
	}
	ictx, cancel := context.WithTimeout(ctx, indexTimeout)
	defer cancel()
	if err := ix.EnsureIndexes(ictx); err != nil {
		logger.Get().Warn(ctx, "ensure indexes failed", logger.Error(err))
	}
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

// startServiceMetricsUpdater publishes the propagation backlog.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

func updateServiceMetrics(ctx context.Context, svc *service.Service) {
	metrics.UpdatePropagationQueueSize(svc.PendingPropagations(ctx))
}
