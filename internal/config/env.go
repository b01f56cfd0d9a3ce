package config

import (
	"strconv"
	"strings"
)

// applyEnv 用 SENTINEL_* 环境变量覆盖配置文件中的值。
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	str("SENTINEL_ADDRESS", &c.Server.Address)
	str("SENTINEL_JWT_SECRET", &c.Server.Auth.Secret)
	num("SENTINEL_DISPATCH_TIMEOUT", &c.Agents.DispatchTimeoutSecs)
	flag("SENTINEL_SIMULATE_LATENCY", &c.Agents.SimulateLatency)
	str("SENTINEL_HISTORY_DRIVER", &c.Storage.History.Driver)
	str("SENTINEL_HISTORY_DSN", &c.Storage.History.DSN)
	str("SENTINEL_JOB_STORE_DRIVER", &c.Storage.JobStore.Driver)
	str("SENTINEL_JOB_STORE_DSN", &c.Storage.JobStore.DSN)
	str("SENTINEL_QUEUE_DRIVER", &c.Queue.Driver)
	num("SENTINEL_QUEUE_WORKERS", &c.Queue.Workers)
	str("SENTINEL_REDIS_ADDRESS", &c.Queue.Redis.Address)
	str("SENTINEL_RABBITMQ_URL", &c.Queue.RabbitMQ.URL)
	str("SENTINEL_NATS_URL", &c.Queue.NATS.URL)
	str("SENTINEL_LLM_PROVIDER", &c.LLM.Provider)
	str("SENTINEL_RPC_URL", &c.Web3.RPCURL)
	str("SENTINEL_LOG_LEVEL", &c.Logging.Level)
	str("SENTINEL_DATA_DIR", &c.Runtime.DataDir)
	str("SENTINEL_OTLP_ENDPOINT", &c.Tracing.OTLPEndpoint)
	if c.Tracing.OTLPEndpoint != "" {
		if _, ok := lookup("SENTINEL_OTLP_ENDPOINT"); ok {
			c.Tracing.Enabled = true
		}
	}
}
