package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wsqyouth/sqsflow/internal/adapter"
	"github.com/wsqyouth/sqsflow/internal/domains"
	"github.com/wsqyouth/sqsflow/internal/framework"
	"github.com/wsqyouth/sqsflow/internal/worker"
	"github.com/wsqyouth/sqsflow/pkg/config"
	"github.com/wsqyouth/sqsflow/pkg/errorutil"
	"github.com/wsqyouth/sqsflow/pkg/logger"
	"github.com/wsqyouth/sqsflow/pkg/redisq"
	"github.com/wsqyouth/sqsflow/pkg/sqsx"
)

var (
	configPath = flag.String("config", "./config/worker.yaml", "config file path")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()
	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("Config validation failed: %v", err)
		return 1
	}

	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		log.Printf("Failed to create logger: %v", err)
		return 1
	}
	defer zapLogger.Sync()

	client, err := buildClient(ctx, cfg)
	if err != nil {
		zapLogger.Errorf(ctx, "Failed to create queue client: %v", err)
		return 1
	}

	registry := adapter.NewRegistry()
	if err := domains.Register(registry, zapLogger); err != nil {
		zapLogger.Errorf(ctx, "Failed to register handlers: %v", err)
		return 1
	}

	var launcher *worker.Launcher
	bridge := adapter.NewBridge(client, registry,
		adapter.WithStoppingProbe(func() bool {
			return launcher != nil && launcher.Stopping()
		}))

	bind := make(map[string]worker.Handlers)
	for _, g := range cfg.Groups {
		if g.Batch {
			bind[g.Name] = worker.Handlers{BatchHandler: bridge.BatchMessageHandler()}
		} else {
			bind[g.Name] = worker.Handlers{Handler: bridge.MessageHandler()}
		}
	}

	chain := framework.NewChain()
	launcher, err = worker.Build(cfg, client, bind, chain, zapLogger)
	if err != nil {
		zapLogger.Errorf(ctx, "Failed to build launcher: %v", err)
		return 1
	}

	if err := launcher.Start(ctx); err != nil {
		zapLogger.Errorf(ctx, "Failed to start: %v", err)
		return 1
	}
	zapLogger.Infof(ctx, "%s started with %d groups", cfg.App.Name, len(cfg.Groups))

	// Fatal per-queue errors are informational at this level: the
	// affected group keeps polling its remaining queues.
	go func() {
		for err := range launcher.Errors() {
			zapLogger.Errorf(ctx, "Queue disabled: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGTSTP, syscall.SIGUSR1)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGUSR1:
			launcher.DumpDebugInfo(ctx)
		case syscall.SIGTSTP:
			zapLogger.Infof(ctx, "Received %v, quieting", sig)
			launcher.Quiet()
		case syscall.SIGTERM:
			zapLogger.Infof(ctx, "Received %v, soft stop", sig)
			if err := launcher.Stop(ctx); err != nil {
				zapLogger.Errorf(ctx, "Soft stop failed: %v", err)
				return 1
			}
			zapLogger.Infof(ctx, "Stopped clean")
			return 0
		case syscall.SIGINT:
			zapLogger.Infof(ctx, "Received %v, hard stop", sig)
			err := launcher.StopNow()
			if errors.Is(err, errorutil.ErrShutdownTimeout) {
				zapLogger.Warnf(ctx, "Deadline elapsed, in-flight work abandoned")
				return 1
			}
			if err != nil {
				zapLogger.Errorf(ctx, "Hard stop failed: %v", err)
				return 1
			}
			zapLogger.Infof(ctx, "Stopped clean")
			return 0
		}
	}
}

func buildClient(ctx context.Context, cfg *config.Config) (framework.QueueClient, error) {
	switch cfg.Backend.Type {
	case config.BackendRedis:
		return redisq.NewClient(ctx,
			cfg.Backend.Redis.Addr,
			cfg.Backend.Redis.Password,
			cfg.Backend.Redis.DB,
			cfg.Backend.Redis.Visibility)
	default:
		return sqsx.Dial(ctx, sqsx.Options{
			Region:    cfg.Backend.SQS.Region,
			Endpoint:  cfg.Backend.SQS.Endpoint,
			AccessKey: cfg.Backend.SQS.AccessKey,
			SecretKey: cfg.Backend.SQS.SecretKey,
		})
	}
}
