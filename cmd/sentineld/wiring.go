package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"Web3-Sentinel/internal/api"
	"Web3-Sentinel/internal/config"
	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/internal/job"
	"Web3-Sentinel/internal/llm"
	"Web3-Sentinel/internal/llm/openai"
	"Web3-Sentinel/internal/llm/pythonbridge"
	"Web3-Sentinel/internal/observability/alerting"
	"Web3-Sentinel/internal/storage/history"
	"Web3-Sentinel/internal/storage/mysql"
	"Web3-Sentinel/internal/storage/sqlite"
	"Web3-Sentinel/pkg/logger"
)

// dbPools 按 DSN 复用数据库连接，历史仓库与任务存储指向同一个库时只建一个连接池。
type dbPools struct {
	byKey map[string]*sql.DB
	order []string
}

func newDBPools() *dbPools {
	return &dbPools{byKey: make(map[string]*sql.DB)}
}

func (p *dbPools) open(ctx context.Context, db config.DatabaseConfig) (*sql.DB, error) {
	key := db.Driver + ":" + db.DSN + db.Path
	if existing, ok := p.byKey[key]; ok {
		return existing, nil
	}

	var (
		conn *sql.DB
		err  error
	)
	switch db.Driver {
	case "mysql":
		conn, err = mysql.Open(ctx, mysql.Config{
			DSN:             db.DSN,
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: time.Duration(db.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(db.ConnMaxIdleTimeSeconds) * time.Second,
			AutoMigrate:     db.AutoMigrate,
		})
	case "sqlite":
		conn, err = sqlite.Open(ctx, db.Path)
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("驱动 %s 不需要数据库连接", db.Driver))
	}
	if err != nil {
		return nil, err
	}
	p.byKey[key] = conn
	p.order = append(p.order, key)
	return conn, nil
}

// HealthChecks 为每个连接池生成一个 ping 检查项。
func (p *dbPools) HealthChecks() map[string]api.HealthCheck {
	checks := make(map[string]api.HealthCheck, len(p.byKey))
	for _, key := range p.order {
		conn := p.byKey[key]
		name := "database:" + strings.SplitN(key, ":", 2)[0]
		if _, exists := checks[name]; exists {
			name = fmt.Sprintf("%s#%d", name, len(checks))
		}
		checks[name] = conn.PingContext
	}
	return checks
}

// Close 关闭全部连接池，sql.DB 的重复关闭是安全的。
func (p *dbPools) Close() {
	for _, key := range p.order {
		_ = p.byKey[key].Close()
	}
}

func openHistory(ctx context.Context, cfg *config.Config, pools *dbPools) (history.Repository, error) {
	if cfg.Storage.History.Driver == "memory" {
		return history.NewMemoryRepository(cfg.Runtime.DataDir)
	}
	db, err := pools.open(ctx, cfg.Storage.History)
	if err != nil {
		return nil, err
	}
	return history.NewSQLRepository(db), nil
}

func openJobStore(ctx context.Context, cfg *config.Config, pools *dbPools) (job.Store, error) {
	if cfg.Storage.JobStore.Driver == "memory" {
		return job.NewMemoryStore(), nil
	}
	db, err := pools.open(ctx, cfg.Storage.JobStore)
	if err != nil {
		return nil, err
	}
	return job.NewMySQLStore(db), nil
}

// jobQueue 同时承担生产与消费。
type jobQueue interface {
	job.Producer
	job.Consumer
}

// openQueue 返回队列以及额外需要释放的 broker；队列本身由 job.Service 关闭。
func openQueue(ctx context.Context, cfg *config.Config) (jobQueue, func(), error) {
	noop := func() {}
	q := cfg.Queue
	switch q.Driver {
	case "memory":
		return job.NewMemoryQueue(q.Size), noop, nil
	case "redis":
		queue, err := job.NewRedisQueue(ctx, job.RedisQueueConfig{
			Address:   q.Redis.Address,
			Password:  q.Redis.Password,
			DB:        q.Redis.DB,
			Queue:     q.Redis.Queue,
			BlockWait: time.Duration(q.Redis.BlockWaitSecs) * time.Second,
		})
		return queue, noop, err
	case "rabbitmq":
		queue, err := job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:        q.RabbitMQ.URL,
			Queue:      q.RabbitMQ.Queue,
			Prefetch:   q.RabbitMQ.Prefetch,
			Durable:    q.RabbitMQ.Durable,
			AutoDelete: q.RabbitMQ.AutoDelete,
		})
		return queue, noop, err
	case "nats":
		url := q.NATS.URL
		closeBroker := noop
		if url == "" {
			embedded, err := job.StartEmbeddedNATS(job.EmbeddedNATSConfig{
				Port:    q.NATS.EmbeddedPort,
				DataDir: filepath.Join(cfg.Runtime.DataDir, "nats"),
			})
			if err != nil {
				return nil, noop, err
			}
			url = embedded.ClientURL()
			closeBroker = embedded.Close
			logger.L().Info("已启动内嵌 NATS", slog.String("url", url))
		}
		queue, err := job.NewNATSQueue(job.NATSQueueConfig{
			URL:     url,
			Subject: q.NATS.Subject,
			Group:   q.NATS.Group,
			Buffer:  q.Size,
		})
		if err != nil {
			closeBroker()
			return nil, noop, err
		}
		return queue, closeBroker, nil
	default:
		return nil, noop, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("不支持的队列驱动: %s", q.Driver))
	}
}

// createLLMClient 根据配置选择推理后端，provider 为 none 时返回 nil，智能体走模板输出。
func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "none":
		return nil, nil
	case "openai":
		client, err := openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.OpenAI.ResolvedAPIKey(),
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "python_bridge":
		python := cfg.LLM.Python
		client, err := pythonbridge.NewClient(
			python.PythonExecutable,
			pythonbridge.ResolveScriptPath(python.WorkingDir, python.ScriptPath),
			python.WorkingDir,
		)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("不支持的 LLM 提供方: %s", cfg.LLM.Provider))
	}
}

// buildAlerting 组装告警渠道，日志渠道始终启用。
func buildAlerting(cfg *config.Config) (alerting.Dispatcher, error) {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alert")}}
	tg := cfg.Alerting.Telegram
	if tg.Enabled {
		token := tg.ResolvedToken()
		if token == "" || tg.ChatID == 0 {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "Telegram 告警需要 token 与 chat_id")
		}
		bot, err := alerting.NewTelegramBot(token)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 Telegram 告警失败")
		}
		notifiers = append(notifiers, &alerting.TelegramNotifier{Sender: bot, ChatID: tg.ChatID})
	}
	return alerting.NewFanout(notifiers...), nil
}
