package config

import (
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/internal/observability/tracing"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "SENTINEL_CONFIG"

// DefaultPath 是未设置环境变量时使用的配置文件路径。
var DefaultPath = filepath.Join("configs", "sentinel.json")

// Config 描述了 Web3 Sentinel 在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Agents    AgentsConfig    `json:"agents"`
	Storage   StorageConfig   `json:"storage"`
	Queue     QueueConfig     `json:"queue"`
	LLM       LLMConfig       `json:"llm"`
	Web3      Web3Config      `json:"web3"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Alerting  AlertingConfig  `json:"alerting"`
	Schedule  ScheduleConfig  `json:"schedule"`
	Events    EventsConfig    `json:"events"`
	Logging   LoggingConfig   `json:"logging"`
	Tracing   tracing.Config  `json:"tracing"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与防护参数。
type ServerConfig struct {
	Address          string     `json:"address"`
	ReadTimeoutSecs  int        `json:"read_timeout_seconds"`
	WriteTimeoutSecs int        `json:"write_timeout_seconds"`
	RateLimit        float64    `json:"rate_limit"`
	RateBurst        int        `json:"rate_burst"`
	Compress         bool       `json:"compress"`
	Auth             AuthConfig `json:"auth"`
}

// AuthConfig 控制可选的 Bearer Token 认证，Secret 为空时关闭认证。
type AuthConfig struct {
	Secret          string `json:"secret"`
	SecretEnv       string `json:"secret_env"`
	Issuer          string `json:"issuer"`
	TokenTTLSeconds int    `json:"token_ttl_seconds"`
}

// ResolvedSecret 返回签名密钥。
func (a AuthConfig) ResolvedSecret() string {
	if secret := strings.TrimSpace(a.Secret); secret != "" {
		return secret
	}
	if a.SecretEnv != "" {
		return strings.TrimSpace(os.Getenv(a.SecretEnv))
	}
	return ""
}

// TokenTTL 返回签发令牌的有效期。
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLSeconds) * time.Second
}

// ReadTimeout 返回读取超时。
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSecs) * time.Second
}

// WriteTimeout 返回写入超时，0 表示不限制。
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSecs) * time.Second
}

// AgentsConfig 控制派发器与执行器的行为。
type AgentsConfig struct {
	DispatchTimeoutSecs int    `json:"dispatch_timeout_seconds"`
	ObserverTimeoutSecs int    `json:"observer_timeout_seconds"`
	SimulateLatency     bool   `json:"simulate_latency"`
	Repository          string `json:"repository"`
}

// ObserverTimeout 返回单次生命周期事件通知的上限。
func (a AgentsConfig) ObserverTimeout() time.Duration {
	return time.Duration(a.ObserverTimeoutSecs) * time.Second
}

// DispatchTimeout 返回单次派发的超时时间，0 表示不限制。
func (a AgentsConfig) DispatchTimeout() time.Duration {
	return time.Duration(a.DispatchTimeoutSecs) * time.Second
}

// StorageConfig 描述任务历史与异步任务存储。
type StorageConfig struct {
	History  DatabaseConfig `json:"history"`
	JobStore DatabaseConfig `json:"job_store"`
}

// DatabaseConfig 选择存储驱动：memory、mysql 或 sqlite。
type DatabaseConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	Path                   string `json:"path"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
	AutoMigrate            bool   `json:"auto_migrate"`
	Retries                int    `json:"retries"`
}

// QueueConfig 选择异步任务队列：memory、redis、rabbitmq 或 nats。
type QueueConfig struct {
	Driver               string         `json:"driver"`
	Workers              int            `json:"workers"`
	Size                 int            `json:"size"`
	RepublishTimeoutSecs int            `json:"republish_timeout_seconds"`
	Redis                RedisConfig    `json:"redis"`
	RabbitMQ             RabbitMQConfig `json:"rabbitmq"`
	NATS                 NATSConfig     `json:"nats"`
}

// RepublishTimeout 返回重试任务重新排队的等待上限。
func (q QueueConfig) RepublishTimeout() time.Duration {
	return time.Duration(q.RepublishTimeoutSecs) * time.Second
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Address       string `json:"address"`
	Password      string `json:"password"`
	DB            int    `json:"db"`
	Queue         string `json:"queue"`
	BlockWaitSecs int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 连接。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// NATSConfig 描述 NATS 连接；URL 为空时启动进程内服务器。
type NATSConfig struct {
	URL          string `json:"url"`
	Subject      string `json:"subject"`
	Group        string `json:"group"`
	EmbeddedPort int    `json:"embedded_port"`
}

// LLMConfig 用于配置大模型推理的调用方式：none、openai 或 python_bridge。
type LLMConfig struct {
	Provider string             `json:"provider"`
	OpenAI   OpenAIConfig       `json:"openai"`
	Python   PythonBridgeConfig `json:"python_bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey      string `json:"api_key"`
	APIKeyEnv   string `json:"api_key_env"`
	BaseURL     string `json:"base_url"`
	Model       string `json:"model"`
	TimeoutSecs int    `json:"timeout_seconds"`
}

// Timeout 返回请求超时。
func (o OpenAIConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSecs) * time.Second
}

// ResolvedAPIKey 优先使用显式配置的密钥，其次读取 APIKeyEnv 指定的环境变量。
func (o OpenAIConfig) ResolvedAPIKey() string {
	if key := strings.TrimSpace(o.APIKey); key != "" {
		return key
	}
	if o.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(o.APIKeyEnv))
	}
	return ""
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// Web3Config 描述链节点配置，ChainConfig 指向 YAML 链定义文件。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	RPCURL       string `json:"rpc_url"`
	DefaultChain string `json:"default_chain"`
}

// KnowledgeConfig 描述知识库来源，Source 为空时使用内置知识库。
type KnowledgeConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// AlertingConfig 描述告警渠道。
type AlertingConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig 描述 Telegram 告警。
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token"`
	TokenEnv string `json:"token_env"`
	ChatID   int64  `json:"chat_id"`
}

// ResolvedToken 返回 Bot Token。
func (t TelegramConfig) ResolvedToken() string {
	if token := strings.TrimSpace(t.Token); token != "" {
		return token
	}
	if t.TokenEnv != "" {
		return strings.TrimSpace(os.Getenv(t.TokenEnv))
	}
	return ""
}

// ScheduleConfig 描述定时任务定义文件。
type ScheduleConfig struct {
	File             string `json:"file"`
	PollIntervalSecs int    `json:"poll_interval_seconds"`
}

// PollInterval 返回轮询间隔。
func (s ScheduleConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSecs) * time.Second
}

// EventsConfig 描述事件推送。
type EventsConfig struct {
	RedisAddress   string   `json:"redis_address"`
	Channel        string   `json:"channel"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoggingConfig 描述日志输出。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 描述审计日志文件与轮转参数。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Path 返回应当加载的配置文件路径。
func Path() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 解析指定路径的 JSON 配置文件。文件不存在时使用默认配置，
// 相对路径以配置文件所在目录为基准。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "配置文件路径为空")
	}

	var cfg Config
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("解析配置文件 %s 失败", path))
		}
	case stdErrors.Is(err, fs.ErrNotExist):
	default:
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("读取配置文件 %s 失败", path))
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeoutSecs <= 0 {
		c.Server.ReadTimeoutSecs = 15
	}
	if c.Server.RateBurst <= 0 && c.Server.RateLimit > 0 {
		c.Server.RateBurst = int(c.Server.RateLimit) + 1
	}

	if c.Server.Auth.Issuer == "" {
		c.Server.Auth.Issuer = "web3-sentinel"
	}
	if c.Server.Auth.TokenTTLSeconds <= 0 {
		c.Server.Auth.TokenTTLSeconds = 3600
	}

	if c.Agents.DispatchTimeoutSecs < 0 {
		c.Agents.DispatchTimeoutSecs = 0
	}
	if c.Agents.ObserverTimeoutSecs <= 0 {
		c.Agents.ObserverTimeoutSecs = 5
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}

	for _, db := range []*DatabaseConfig{&c.Storage.History, &c.Storage.JobStore} {
		if db.Driver == "" {
			db.Driver = "memory"
		}
		if db.Path != "" {
			db.Path = resolve(baseDir, db.Path)
		}
	}
	if c.Storage.History.Driver == "sqlite" && c.Storage.History.Path == "" {
		c.Storage.History.Path = filepath.Join(c.Runtime.DataDir, "history.db")
	}
	if c.Storage.JobStore.Retries <= 0 {
		c.Storage.JobStore.Retries = 3
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 1024
	}
	if c.Queue.RepublishTimeoutSecs <= 0 {
		c.Queue.RepublishTimeoutSecs = 5
	}
	if c.Queue.NATS.EmbeddedPort == 0 {
		c.Queue.NATS.EmbeddedPort = -1
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "none"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	if c.LLM.Python.WorkingDir == "" {
		c.LLM.Python.WorkingDir = baseDir
	} else {
		c.LLM.Python.WorkingDir = resolve(baseDir, c.LLM.Python.WorkingDir)
	}

	if c.Web3.ChainConfig != "" {
		c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig)
	}
	if c.Knowledge.Source != "" {
		c.Knowledge.Source = resolve(baseDir, c.Knowledge.Source)
	}
	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}
	if c.Alerting.Telegram.TokenEnv == "" {
		c.Alerting.Telegram.TokenEnv = "SENTINEL_TELEGRAM_TOKEN"
	}
	if c.Schedule.File != "" {
		c.Schedule.File = resolve(baseDir, c.Schedule.File)
	}
	if c.Schedule.PollIntervalSecs <= 0 {
		c.Schedule.PollIntervalSecs = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "web3-sentinel"
	}
}

// Validate 检查驱动名称等枚举字段。
func (c *Config) Validate() error {
	checks := []struct {
		field   string
		value   string
		allowed []string
	}{
		{"storage.history.driver", c.Storage.History.Driver, []string{"memory", "mysql", "sqlite"}},
		{"storage.job_store.driver", c.Storage.JobStore.Driver, []string{"memory", "mysql"}},
		{"queue.driver", c.Queue.Driver, []string{"memory", "redis", "rabbitmq", "nats"}},
		{"llm.provider", c.LLM.Provider, []string{"none", "openai", "python_bridge"}},
	}
	for _, check := range checks {
		if !contains(check.allowed, check.value) {
			return xerrors.New(xerrors.CodeInitializationFailure,
				fmt.Sprintf("%s 不支持 %q，可选值: %s", check.field, check.value, strings.Join(check.allowed, ", ")))
		}
	}
	if c.Storage.History.Driver == "mysql" && c.Storage.History.DSN == "" {
		return xerrors.New(xerrors.CodeInitializationFailure, "storage.history.dsn 不能为空")
	}
	if c.Storage.JobStore.Driver == "mysql" && c.Storage.JobStore.DSN == "" {
		return xerrors.New(xerrors.CodeInitializationFailure, "storage.job_store.dsn 不能为空")
	}
	return nil
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
