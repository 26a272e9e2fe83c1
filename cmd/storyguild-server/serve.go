package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	server "github.com/kazz187/storyguild/internal"
	"github.com/kazz187/storyguild/internal/agent"
	"github.com/kazz187/storyguild/internal/config"
	"github.com/kazz187/storyguild/internal/entity"
	entityrepo "github.com/kazz187/storyguild/internal/entity/repositoryimpl"
	"github.com/kazz187/storyguild/internal/event"
	"github.com/kazz187/storyguild/internal/eventbus"
	"github.com/kazz187/storyguild/internal/generation"
	"github.com/kazz187/storyguild/internal/poolconfig"
	"github.com/kazz187/storyguild/internal/pushnotification"
	pushsubrepo "github.com/kazz187/storyguild/internal/pushsubscription/repositoryimpl"
	"github.com/kazz187/storyguild/internal/scheduler"
	"github.com/kazz187/storyguild/pkg/clog"
	"github.com/kazz187/storyguild/pkg/storage"
)

func serve() error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Setup storage
	var store storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3Storage(ctx, env.S3Bucket, env.S3Prefix, env.S3Region)
		if err != nil {
			return fmt.Errorf("failed to create S3 storage: %w", err)
		}
	default:
		store, err = storage.NewLocalStorage(env.BaseDir)
		if err != nil {
			return fmt.Errorf("failed to create local storage: %w", err)
		}
	}

	bus := eventbus.New()

	entityRepo := entityrepo.NewYAMLRepository(store)
	pushSubRepo := pushsubrepo.NewYAMLRepository(store)
	entityService := entity.NewService(entityRepo, bus)

	factory, err := newAgentFactory(ctx, &env.GenerationEnv, &env.SchedulerEnv, store)
	if err != nil {
		return err
	}

	poolCfg := scheduler.PoolConfig{Size: env.PoolSize}
	if env.PoolConfigPath != "" {
		poolCfg, err = poolconfig.Load(env.PoolConfigPath)
		if err != nil {
			return err
		}
	}

	sched := scheduler.New(factory,
		scheduler.WithPool(poolCfg),
		scheduler.WithResultHandler(entityService),
		scheduler.WithEventBus(bus),
		scheduler.WithWatchdog(env.WatchdogTimeout, 0),
		scheduler.WithMaxRespawns(env.MaxRespawns),
		scheduler.WithArtifactPrefix(env.ArtifactPrefix),
	)

	vapidEnv := config.VAPIDEnvFromEnv(env)
	pushSender := pushnotification.NewSender(vapidEnv, pushSubRepo)
	pushDispatcher := pushnotification.NewDispatcher(bus, pushSender)

	srv := server.NewServer(
		env,
		sched,
		scheduler.NewServer(sched),
		entity.NewServer(entityService, entityRepo),
		event.NewServer(bus),
		pushnotification.NewServer(vapidEnv, pushSubRepo, pushSender),
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := sched.Run(ctx); err != nil {
			slog.Error("scheduler stopped", "error", err)
			cancel()
		}
	})
	wg.Go(func() { pushDispatcher.Start(ctx) })
	if env.PoolConfigPath != "" {
		watcher := poolconfig.NewWatcher(env.PoolConfigPath, sched, poolCfg)
		wg.Go(func() {
			if err := watcher.Run(ctx); err != nil {
				slog.Error("pool config watcher stopped", "error", err)
			}
		})
	}
	wg.Go(func() {
		if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	})

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	wg.Wait()
	return nil
}

func newAgentFactory(ctx context.Context, genEnv *config.GenerationEnv, schedEnv *config.SchedulerEnv, store storage.Storage) (*agent.Factory, error) {
	var newExecutor agent.ExecutorFunc
	switch genEnv.Backend {
	case "gemini":
		defaults := agent.Config{TextModel: genEnv.TextModel, ImageModel: genEnv.ImageModel}
		if genEnv.GeminiAPIKey == "" {
			return nil, generation.ErrMissingAPIKey
		}
		newExecutor = func() (agent.Executor, error) {
			return generation.NewGemini(ctx, genEnv.GeminiAPIKey, store, defaults)
		}
	case "echo":
		newExecutor = func() (agent.Executor, error) {
			return generation.NewEcho(store, genEnv.EchoDelay), nil
		}
	default:
		return nil, fmt.Errorf("unknown generation backend %q", genEnv.Backend)
	}
	slog.Info("generation backend selected", "backend", genEnv.Backend, "shared_executor", schedEnv.SharedExecutor)
	return agent.NewFactory(newExecutor, agent.WithSharedExecutor(schedEnv.SharedExecutor)), nil
}
