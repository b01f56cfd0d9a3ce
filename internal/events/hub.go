// Package events 把派发器的任务生命周期事件推送给 websocket 客户端。
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"Web3-Sentinel/internal/agent"
	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/pkg/logger"
)

// Message 是推送给客户端的事件负载。
type Message struct {
	Type       agent.EventType `json:"type"`
	Task       agent.Task      `json:"task"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  string          `json:"errorCode,omitempty"`
	DurationMs int64           `json:"durationMs,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewMessage 把派发事件转换为推送负载。
func NewMessage(event agent.Event, now time.Time) Message {
	msg := Message{
		Type:       event.Type,
		Task:       event.Task,
		DurationMs: event.Duration.Milliseconds(),
		Timestamp:  now.UTC(),
	}
	if event.Err != nil {
		msg.Error = event.Err.Error()
		if code := xerrors.CodeOf(event.Err); code != xerrors.CodeUnknown {
			msg.ErrorCode = string(code)
		}
	}
	return msg
}

type envelope struct {
	agent agent.Variant
	raw   []byte
}

// Config 描述 Hub 的可选配置。
type Config struct {
	// Redis 非空时事件经由 Redis pub/sub 中转，多个实例的客户端都能收到。
	Redis          *redis.Client
	Channel        string
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Hub 维护在线客户端并广播事件。
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	messages       chan envelope
	redis          *redis.Client
	channel        string
	allowedOrigins map[string]bool
	logger         *slog.Logger
	now            func() time.Time
}

// NewHub 创建 Hub，需要调用 Run 才会开始分发。
func NewHub(cfg Config) *Hub {
	l := cfg.Logger
	if l == nil {
		l = logger.Named("events")
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "sentinel:events"
	}
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		origins[origin] = true
	}
	return &Hub{
		clients:        make(map[*Client]struct{}),
		messages:       make(chan envelope, 256),
		redis:          cfg.Redis,
		channel:        channel,
		allowedOrigins: origins,
		logger:         l,
		now:            time.Now,
	}
}

// OnTaskEvent 实现 agent.Observer。
func (h *Hub) OnTaskEvent(ctx context.Context, event agent.Event) {
	raw, err := json.Marshal(NewMessage(event, h.now()))
	if err != nil {
		h.logger.Error("序列化事件失败", slog.Any("error", err))
		return
	}
	if h.redis != nil {
		if err := h.redis.Publish(ctx, h.channel, raw).Err(); err != nil {
			h.logger.Warn("发布事件到 Redis 失败，改为本地广播", slog.Any("error", err))
			h.enqueue(envelope{agent: event.Task.AgentID, raw: raw})
		}
		return
	}
	h.enqueue(envelope{agent: event.Task.AgentID, raw: raw})
}

func (h *Hub) enqueue(env envelope) {
	select {
	case h.messages <- env:
	default:
		h.logger.Warn("事件队列已满，丢弃事件")
	}
}

// Run 分发事件直到 ctx 结束，结束时断开所有客户端。
func (h *Hub) Run(ctx context.Context) {
	if h.redis != nil {
		go h.subscribe(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case env := <-h.messages:
			h.broadcast(env)
		}
	}
}

func (h *Hub) subscribe(ctx context.Context) {
	pubsub := h.redis.Subscribe(ctx, h.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		h.logger.Error("订阅 Redis 事件频道失败", slog.Any("error", err))
		return
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var decoded Message
			raw := []byte(msg.Payload)
			if err := json.Unmarshal(raw, &decoded); err != nil {
				h.logger.Warn("忽略无法解析的事件", slog.Any("error", err))
				continue
			}
			h.enqueue(envelope{agent: decoded.Task.AgentID, raw: raw})
		}
	}
}

func (h *Hub) broadcast(env envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.agent != "" && client.agent != env.agent {
			continue
		}
		select {
		case client.send <- env.raw:
		default:
			h.logger.Warn("客户端缓冲已满，丢弃事件", slog.String("remote", client.remote))
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// ClientCount 返回在线客户端数量。
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var _ agent.Observer = (*Hub)(nil)
