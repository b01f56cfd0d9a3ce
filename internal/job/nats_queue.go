package job

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	xerrors "Web3-Sentinel/internal/errors"
)

// NATSQueueConfig 描述 NATS 队列的连接参数。
type NATSQueueConfig struct {
	URL     string
	Subject string
	Group   string
	Buffer  int
}

// NATSQueue 基于 NATS 队列组分发任务。核心 NATS 不持久化消息，
// 重启期间未被消费的任务需要依赖调度或重新提交。
type NATSQueue struct {
	conn    *nats.Conn
	subject string
	group   string
	buffer  int
}

// NewNATSQueue 连接 NATS 服务器。
func NewNATSQueue(cfg NATSQueueConfig) (*NATSQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "NATS URL 不能为空")
	}
	conn, err := nats.Connect(cfg.URL, nats.Name("web3-sentinel"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 NATS 失败")
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "sentinel.jobs"
	}
	group := cfg.Group
	if group == "" {
		group = "sentinel-workers"
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	return &NATSQueue{conn: conn, subject: subject, group: group, buffer: buffer}, nil
}

// Publish 将任务 ID 发布到主题。
func (q *NATSQueue) Publish(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return xerrors.FromContext(err, "投递任务被中断")
	}
	if err := q.conn.Publish(q.subject, []byte(jobID)); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "NATS 发布任务失败")
	}
	return nil
}

// Consume 以队列组订阅主题，同组内每条消息只会被一个实例消费。
func (q *NATSQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs := make(chan *nats.Msg, q.buffer)
	sub, err := q.conn.ChanQueueSubscribe(q.subject, q.group, msgs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 NATS 主题失败")
	}
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-msgs:
					jobID := string(msg.Data)
					if err := handler(ctx, jobID); err != nil && ctx.Err() == nil {
						_ = q.conn.Publish(q.subject, msg.Data)
					}
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 排空并关闭连接。
func (q *NATSQueue) Close() error {
	if q == nil || q.conn == nil {
		return nil
	}
	if err := q.conn.Drain(); err != nil {
		q.conn.Close()
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "关闭 NATS 连接失败")
	}
	return nil
}

var _ Queue = (*NATSQueue)(nil)
