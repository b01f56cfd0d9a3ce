package job

import (
	"os"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	xerrors "Web3-Sentinel/internal/errors"
)

// EmbeddedNATSConfig 描述进程内 NATS 服务器的参数。Port 为 -1 时随机分配端口。
type EmbeddedNATSConfig struct {
	Host    string
	Port    int
	DataDir string
}

// EmbeddedNATS 在进程内运行 NATS 服务器，单实例部署时无需额外的消息中间件。
type EmbeddedNATS struct {
	server *natsserver.Server
}

// StartEmbeddedNATS 启动服务器并等待其可接受连接。
func StartEmbeddedNATS(cfg EmbeddedNATSConfig) (*EmbeddedNATS, error) {
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建 NATS 数据目录失败")
		}
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	opts := &natsserver.Options{
		Host:     host,
		Port:     cfg.Port,
		NoLog:    true,
		NoSigs:   true,
		StoreDir: cfg.DataDir,
	}
	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建 NATS 服务器失败")
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "NATS 服务器未能就绪")
	}
	return &EmbeddedNATS{server: ns}, nil
}

// ClientURL 返回客户端连接地址。
func (e *EmbeddedNATS) ClientURL() string {
	return e.server.ClientURL()
}

// Close 关闭服务器并等待退出。
func (e *EmbeddedNATS) Close() {
	if e == nil || e.server == nil {
		return
	}
	e.server.Shutdown()
	e.server.WaitForShutdown()
}
