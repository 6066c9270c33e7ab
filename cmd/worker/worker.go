package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/septivank/utility-billing-worker/internal/anomaly"
	"github.com/septivank/utility-billing-worker/internal/api"
	"github.com/septivank/utility-billing-worker/internal/clock"
	"github.com/septivank/utility-billing-worker/internal/config"
	"github.com/septivank/utility-billing-worker/internal/db"
	"github.com/septivank/utility-billing-worker/internal/metrics"
	"github.com/septivank/utility-billing-worker/internal/mq"
	"github.com/septivank/utility-billing-worker/internal/notify"
	"github.com/septivank/utility-billing-worker/internal/repository"
	"github.com/septivank/utility-billing-worker/internal/scanner"
	"github.com/septivank/utility-billing-worker/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startConsumer(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	processor *service.EventProcessor,
) (*mq.Consumer, error) {
	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		Queue:            cfg.RabbitMQ.EventsQueue,
		DLQQueue:         cfg.RabbitMQ.DLQQueue,
		Exchange:         cfg.RabbitMQ.EventsExchange,
		RoutingKey:       cfg.RabbitMQ.EventsRoutingKey,
		PrefetchCount:    cfg.RabbitMQ.PrefetchCount,
		Logger:           logger,
		MessageProcessor: processor.ProcessMessage,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting billing event consumer",
				zap.String("queue", cfg.RabbitMQ.EventsQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("billing event consumer stopped")
			return nil
		},
	})

	return consumer, nil
}

func startDispatcher(lc fx.Lifecycle, logger *zap.Logger, d *notify.Dispatcher) {
	runInBackground(lc, logger, "notification-dispatcher", d)
}

func startScanner(lc fx.Lifecycle, logger *zap.Logger, s *scanner.Scanner) {
	runInBackground(lc, logger, "due-date-scanner", s)
}

func startHTTPServer(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, router *gin.Engine) {

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServicePort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("[HTTP] cannot listen on %s: %w", srv.Addr, err)
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server failed", zap.Error(err))
				}
			}()
			logger.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			return srv.Shutdown(stopCtx)
		},
	})
}

// registerMetrics registers the worker's collectors before any component starts counting
func registerMetrics() {
	metrics.Init(prometheus.DefaultRegisterer)
}

// ProvideClock returns the wall clock
func ProvideClock() clock.Clock {
	return clock.System{}
}

// ProvideRepositoryProvider creates a new repository provider on the billing calendar
func ProvideRepositoryProvider(pool *db.Pool, cfg *config.Config) *repository.Provider {
	return repository.NewProvider(pool, cfg.Scanner.Location)
}

// ProvideQueue creates the in-memory notification event queue
func ProvideQueue() *notify.Queue {
	return notify.NewQueue()
}

// ProvideAnomalyDetector creates a new anomaly detector instance
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(cfg.Anomaly.SpikeThreshold, cfg.Anomaly.MinDataPointsForDetection)
}

// ProvidePublisher creates the notification fan-out publisher
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.NotificationsExchange, cfg.RabbitMQ.NotificationsRoutingKey, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideEventProcessor creates the billing event processor
func ProvideEventProcessor(queue *notify.Queue, logger *zap.Logger) *service.EventProcessor {
	return service.NewEventProcessor(queue, logger)
}

// ProvideBillService creates the bill service
func ProvideBillService(provider *repository.Provider, queue *notify.Queue, clk clock.Clock, logger *zap.Logger) *service.BillService {
	return service.NewBillService(provider.Shared(), queue, clk, logger)
}

// ProvideReadingService creates the reading service
func ProvideReadingService(
	provider *repository.Provider,
	detector *anomaly.Detector,
	clk clock.Clock,
	cfg *config.Config,
	logger *zap.Logger,
) *service.ReadingService {
	return service.NewReadingService(provider.Shared(), detector, cfg.Anomaly.HistorySize, clk, logger)
}

// ProvideDispatcher creates the notification dispatcher. Reminders it fails to store
// are handed back to the scanner so the next tick publishes them again.
func ProvideDispatcher(
	queue *notify.Queue,
	provider *repository.Provider,
	reminders *scanner.Scanner,
	publisher *mq.Publisher,
	clk clock.Clock,
	cfg *config.Config,
	logger *zap.Logger,
) *notify.Dispatcher {
	return notify.NewDispatcher(notify.DispatcherConfig{
		Queue: queue,
		Acquire: func(ctx context.Context) (notify.Store, func(), error) {
			repo, release, err := provider.Acquire(ctx)
			if err != nil {
				return nil, nil, err
			}
			return repo, release, nil
		},
		Clock:     clk,
		Logger:    logger.Named("dispatcher"),
		Forwarder: publisher,
		Timeout:   cfg.Dispatcher.Timeout,
		OnFailure: reminders.Forget,
	})
}

// ProvideScanner creates the due date scanner
func ProvideScanner(
	queue *notify.Queue,
	provider *repository.Provider,
	clk clock.Clock,
	cfg *config.Config,
	logger *zap.Logger,
) *scanner.Scanner {
	return scanner.New(scanner.Config{
		Acquire: func(ctx context.Context) (scanner.Store, func(), error) {
			repo, release, err := provider.Acquire(ctx)
			if err != nil {
				return nil, nil, err
			}
			return repo, release, nil
		},
		Publisher:   queue,
		Clock:       clk,
		Logger:      logger.Named("scanner"),
		Interval:    cfg.Scanner.Interval,
		Offsets:     cfg.Scanner.ReminderOffsets,
		Location:    cfg.Scanner.Location,
		TickTimeout: cfg.Scanner.TickTimeout,
	})
}

// ProvideRouter builds the HTTP router
func ProvideRouter(bills *service.BillService, readings *service.ReadingService, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	return api.NewRouter(api.NewHandler(bills, readings, logger), logger.Named("http"))
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}
