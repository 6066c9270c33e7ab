package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/septivank/utility-billing-worker/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lifecycleTimeout = 30 * time.Second

func main() {
	loadEnv()

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideClock,
			ProvideDBPool,
			ProvideRepositoryProvider,
			ProvideQueue,
			ProvideAnomalyDetector,
			ProvideMQConnection,
			ProvidePublisher,
			ProvideEventProcessor,
			ProvideBillService,
			ProvideReadingService,
			ProvideDispatcher,
			ProvideScanner,
			ProvideRouter,
		),
		fx.Invoke(registerMetrics),
		fx.Invoke(
			startDispatcher,
			startScanner,
			startConsumer,
			startHTTPServer,
		),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bootLogger, _ := newLogger(&config.Config{ServiceName: "utility-billing-worker"})
	bootLogger.Info("starting application...", zap.Duration("timeout", lifecycleTimeout))

	startCtx, startCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			bootLogger.Error("APPLICATION START TIMEOUT: database or RabbitMQ did not answer in time, see the connection errors above")
		}
		bootLogger.Fatal("application failed to start", zap.Error(err))
	}

	<-ctx.Done()

	// Background workers finish their current event or tick before Stop returns
	stopCtx, stopCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		bootLogger.Error("error stopping app", zap.Error(err))
	}
}

// loadEnv loads the first .env found in the working directory or up to two levels above it.
// Missing files are fine; containers get their settings from the environment.
func loadEnv() {
	candidates := []string{".env"}
	if workDir, err := os.Getwd(); err == nil {
		parent := filepath.Dir(workDir)
		candidates = append(candidates,
			filepath.Join(parent, ".env"),
			filepath.Join(filepath.Dir(parent), ".env"),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err == nil {
			absPath, _ := filepath.Abs(path)
			fmt.Printf("Loaded environment from: %s\n", absPath)
			return
		}
	}

	fmt.Println("No .env file found, using system environment variables")
}
