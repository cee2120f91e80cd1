// Operon Worker — опрашивает движок процессов и выполняет внешние задачи.
//
// Worker:
//   - Держит пул на каждый включённый топик (REST, Terraform, shell, Ansible, Python)
//   - Разрешает вход задачи по конфигурации продукта и выполняет вызов
//   - Сообщает движку результат, повтор с паузой или BPMN-ошибку
//   - Пишет журнал попыток в PostgreSQL и события в RabbitMQ, если они настроены
//
// Воркеры масштабируются горизонтально: блокировку задачи держит движок.
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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Operon/internal/cache"
	"github.com/shaiso/Operon/internal/config"
	"github.com/shaiso/Operon/internal/configsvc"
	"github.com/shaiso/Operon/internal/engine"
	"github.com/shaiso/Operon/internal/metering"
	"github.com/shaiso/Operon/internal/mq"
	"github.com/shaiso/Operon/internal/remote"
	"github.com/shaiso/Operon/internal/repo"
	"github.com/shaiso/Operon/internal/resolve"
	"github.com/shaiso/Operon/internal/retry"
	"github.com/shaiso/Operon/internal/script"
	"github.com/shaiso/Operon/internal/secrets"
	"github.com/shaiso/Operon/internal/telemetry"
	"github.com/shaiso/Operon/internal/worker"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting operon-worker")

	if err := run(logger); err != nil {
		logger.Error("operon-worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("operon-worker stopped")
}

func run(logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(ctx, "")
	if err != nil {
		return err
	}

	// Кэш конфигурационных документов
	docCache, closeCache, err := cache.New(ctx, cache.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   "operon:config:",
		TTL:      cfg.Services.ConfigCacheTTL,
		LRUSize:  cfg.Redis.LRUSize,
	})
	if err != nil {
		return err
	}
	defer closeCache()
	configs := configsvc.NewCached(
		configsvc.NewClient(cfg.Services.MasterConfigURL, cfg.Services.AllianceURL, cfg.HTTP.ReadTimeout),
		docCache,
	)

	var secretReader resolve.SecretReader
	if cfg.Services.SecretStoreURL != "" {
		secretReader = secrets.NewClient(cfg.Services.SecretStoreURL, cfg.Services.SecretStoreToken, cfg.HTTP.ReadTimeout)
	}

	meter, closeMeter, err := newMetering(cfg.Metering, cfg.Services.ServiceDomain)
	if err != nil {
		return err
	}
	defer closeMeter()

	eng := engine.NewClient(cfg.Engine.URL, cfg.Engine.RequestTimeout)
	lcCfg := worker.LifecycleConfig{
		Engine:   eng,
		Policy:   retry.Policy{Count: cfg.Retry.Count, Delay: cfg.Retry.Delay},
		Metering: meter,
	}

	// Журнал попыток
	if cfg.Database.URL != "" {
		pool, err := repo.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		attempts := repo.NewAttemptRepo(pool)
		if err := attempts.EnsureSchema(ctx); err != nil {
			return err
		}
		lcCfg.Journal = attempts
		logger.Info("attempt journal enabled")
	}

	// RabbitMQ
	if cfg.MQ.URL != "" {
		mqConn, err := mq.NewConnection(cfg.MQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, task events disabled", "error", err)
		} else {
			defer mqConn.Close()
			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			logger.Debug("rabbitmq topology", "info", mq.TopologyInfo())
			lcCfg.Events = mq.NewPublisher(mqConn, logger)
		}
	}

	lifecycle := worker.NewLifecycle(lcCfg)
	registry := newRegistry(cfg, configs, secretReader, meter, eng)

	g, gctx := errgroup.WithContext(ctx)

	pools := enabledPools(cfg)
	for topic, pc := range pools {
		h, err := registry.Get(topic)
		if err != nil {
			return err
		}
		p := worker.NewPool(eng, lifecycle, h, worker.PoolConfig{
			Topic:                topic,
			WorkerID:             fmt.Sprintf("%s-%s-%s", cfg.Engine.WorkerIDPrefix, topic, uuid.NewString()[:8]),
			WorkerCount:          pc.WorkerCount,
			MaxTasks:             pc.MaxTasks,
			AsyncResponseTimeout: pc.AsyncResponseTimeout,
			LockDuration:         pc.LockDuration,
			Backoff:              retry.NewBackoff(pc.BackoffInitial, pc.BackoffMultiplier, pc.BackoffMax),
		})
		g.Go(func() error { return p.Run(gctx) })
	}
	if len(pools) == 0 {
		logger.Warn("no worker pools enabled")
	}

	// HTTP: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// Дожидаемся отчётов и фоновых записей уже выбранных задач
	lifecycle.Wait()
	return err
}

func newMetering(cfg config.MeteringConfig, serviceDomain string) (*metering.Dispatcher, func(), error) {
	if cfg.IngestionURL == "" {
		return nil, func() {}, nil
	}

	rest := metering.NewRESTSink(cfg.IngestionURL, 30*time.Second, cfg.MaxRetries, cfg.RetryBase)
	dcfg := metering.DispatcherConfig{
		APISchemaID:       cfg.APISchemaID,
		JobStatusSchemaID: cfg.JobStatusSchemaID,
		ServiceDomain:     serviceDomain,
	}
	if cfg.GRPCAddress == "" {
		return metering.NewDispatcher(rest, nil, dcfg), func() {}, nil
	}

	sink, err := metering.NewGRPCSink(cfg.GRPCAddress, cfg.GRPCPort)
	if err != nil {
		return nil, nil, fmt.Errorf("metering grpc: %w", err)
	}
	return metering.NewDispatcher(rest, sink, dcfg), func() { _ = sink.Close() }, nil
}

func newRegistry(cfg *config.Config, configs configsvc.Fetcher, secretReader resolve.SecretReader, meter *metering.Dispatcher, eng *engine.Client) *worker.Registry {
	rest := worker.NewRESTHandler(
		configs,
		resolve.NewAssembler(resolve.NewResolver(resolve.APIScope()), secretReader),
		worker.NewHTTPClient(worker.HTTPClientConfig{
			ReadTimeout:    cfg.HTTP.ReadTimeout,
			ConnectTimeout: cfg.HTTP.ConnectTimeout,
			MaxPoolSize:    cfg.HTTP.MaxPoolSize,
			MaxPerRoute:    cfg.HTTP.MaxPerRoute,
		}),
		meter,
	)

	deps := worker.ScriptDeps{
		Configs: configs,
		Dialer:  remote.NewSSHDialer(cfg.HTTP.ConnectTimeout),
		Locks:   eng,
	}
	if cfg.Services.PipelineURL != "" {
		deps.Pipelines = script.NewPipelineClient(cfg.Services.PipelineURL, cfg.HTTP.ReadTimeout)
	}
	backend := script.StateBackend{
		StorageAccount: cfg.Terraform.StorageAccount,
		Container:      cfg.Terraform.Container,
		AccessKey:      cfg.Terraform.AccessKey,
	}

	return worker.NewRegistry(map[string]worker.Handler{
		worker.TopicAPIOperation: rest,
		worker.TopicTerraform:    worker.NewTerraformHandler(deps, backend),
		worker.TopicShellScript:  worker.NewShellHandler(worker.TopicShellScript, deps),
		worker.TopicAnsible:      worker.NewShellHandler(worker.TopicAnsible, deps),
		worker.TopicPython:       worker.NewShellHandler(worker.TopicPython, deps),
	})
}

func enabledPools(cfg *config.Config) map[string]config.PoolConfig {
	all := map[string]config.PoolConfig{
		worker.TopicAPIOperation: cfg.Pools.API,
		worker.TopicTerraform:    cfg.Pools.Terraform,
		worker.TopicShellScript:  cfg.Pools.ShellScript,
		worker.TopicAnsible:      cfg.Pools.Ansible,
		worker.TopicPython:       cfg.Pools.Python,
	}
	pools := make(map[string]config.PoolConfig, len(all))
	for topic, pc := range all {
		if pc.Enabled {
			pools[topic] = pc
		}
	}
	return pools
}
