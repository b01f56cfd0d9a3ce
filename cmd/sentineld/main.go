package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"Web3-Sentinel/internal/agent"
	"Web3-Sentinel/internal/agent/runners"
	"Web3-Sentinel/internal/api"
	"Web3-Sentinel/internal/auth"
	"Web3-Sentinel/internal/catalog"
	"Web3-Sentinel/internal/config"
	"Web3-Sentinel/internal/events"
	"Web3-Sentinel/internal/job"
	"Web3-Sentinel/internal/knowledge"
	"Web3-Sentinel/internal/observability/alerting"
	"Web3-Sentinel/internal/observability/metrics"
	"Web3-Sentinel/internal/observability/tracing"
	"Web3-Sentinel/internal/schedule"
	"Web3-Sentinel/internal/storage/history"
	"Web3-Sentinel/internal/web3"
	"Web3-Sentinel/internal/web3/provider"
	"Web3-Sentinel/pkg/logger"
)

var version = "dev"

// main 是 Web3 Sentinel 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("sentineld 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "sentineld",
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.L()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	tracingCfg := cfg.Tracing
	tracingCfg.ServiceVersion = version
	tracer, err := tracing.Init(ctx, tracingCfg, logger.Named("tracing"))
	if err != nil {
		return err
	}
	defer shutdownWithTimeout(tracer.Shutdown)

	pools := newDBPools()
	defer pools.Close()

	historyRepo, err := openHistory(ctx, cfg, pools)
	if err != nil {
		return err
	}
	defer historyRepo.Close()

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	var chain web3.Client
	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	if chainRegistry != nil {
		defer chainRegistry.Close()
		if chain, err = chainRegistry.DefaultClient(); err != nil {
			return err
		}
		lg.Info("链客户端已就绪", slog.Any("chains", chainRegistry.Chains()))
	}

	knowledgeProvider, err := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
	if err != nil {
		return err
	}

	securityCatalog, err := catalog.NewMemoryCatalog()
	if err != nil {
		return err
	}

	registry, err := agent.NewRegistry(runners.New(runners.Deps{
		LLM:             llmClient,
		Chain:           chain,
		Knowledge:       knowledgeProvider,
		Threats:         securityCatalog,
		Reports:         securityCatalog,
		Tools:           securityCatalog,
		History:         historyRepo,
		Repository:      cfg.Agents.Repository,
		SimulateLatency: cfg.Agents.SimulateLatency,
	}))
	if err != nil {
		return err
	}

	alerts, err := buildAlerting(cfg)
	if err != nil {
		return err
	}

	m := metrics.New()

	var eventsRedis *redis.Client
	if cfg.Events.RedisAddress != "" {
		eventsRedis = redis.NewClient(&redis.Options{Addr: cfg.Events.RedisAddress})
		defer eventsRedis.Close()
	}
	hub := events.NewHub(events.Config{
		Redis:          eventsRedis,
		Channel:        cfg.Events.Channel,
		AllowedOrigins: cfg.Events.AllowedOrigins,
		Logger:         logger.Named("events"),
	})
	go hub.Run(ctx)
	m.GaugeFunc("events", "clients", "当前连接的事件推送客户端数量", func() float64 {
		return float64(hub.ClientCount())
	})

	dispatcher := agent.NewDispatcher(registry,
		agent.WithTimeout(cfg.Agents.DispatchTimeout()),
		agent.WithObserverTimeout(cfg.Agents.ObserverTimeout()),
		agent.WithObserver(history.NewRecorder(historyRepo)),
		agent.WithObserver(m),
		agent.WithObserver(hub),
		agent.WithObserver(alerting.NewDispatchObserver(alerts)),
	)

	jobStore, err := openJobStore(ctx, cfg, pools)
	if err != nil {
		return err
	}
	queue, closeBroker, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBroker()

	jobService := job.NewService(registry, jobStore, queue, cfg.Storage.JobStore.Retries)
	defer func() {
		if err := jobService.Close(); err != nil {
			lg.Warn("关闭任务服务失败", slog.Any("error", err))
		}
	}()

	processor := job.NewProcessor(dispatcher, jobStore, queue, queue,
		job.WithWorkerCount(cfg.Queue.Workers),
		job.WithProcessorLogger(logger.Named("processor")),
		job.WithAlertDispatcher(alerts),
		job.WithRepublishTimeout(cfg.Queue.RepublishTimeout()),
	)
	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	if cfg.Schedule.File != "" {
		entries, err := schedule.LoadFile(cfg.Schedule.File)
		if err != nil {
			return err
		}
		scheduler := schedule.New(entries, jobService, schedule.WithPollInterval(cfg.Schedule.PollInterval()))
		go func() {
			if err := scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("定时任务调度异常退出", slog.Any("error", err))
			}
		}()
	}

	var tokens *auth.TokenManager
	if secret := cfg.Server.Auth.ResolvedSecret(); secret != "" {
		if tokens, err = auth.NewTokenManager(auth.Config{
			Secret: secret,
			Issuer: cfg.Server.Auth.Issuer,
			TTL:    cfg.Server.Auth.TokenTTL(),
		}); err != nil {
			return err
		}
	}

	server, err := api.NewServer(api.Config{
		Address:      cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
		Compress:     cfg.Server.Compress,
	}, api.Dependencies{
		Agents:     registry,
		Dispatcher: dispatcher,
		History:    historyRepo,
		Jobs:       jobService,
		Catalog:    securityCatalog,
		Events:     hub,
		Metrics:    m,
		Auth:       tokens,
		Checks:     pools.HealthChecks(),
	})
	if err != nil {
		return err
	}

	lg.Info("sentineld 启动完成",
		slog.String("version", version),
		slog.String("queue", cfg.Queue.Driver),
		slog.String("history", cfg.Storage.History.Driver),
		slog.String("llm", cfg.LLM.Provider),
		slog.Bool("auth", tokens != nil),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func shutdownWithTimeout(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.L().Warn("关闭组件失败", slog.Any("error", err))
	}
}
