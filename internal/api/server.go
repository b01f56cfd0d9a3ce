package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"Web3-Sentinel/internal/agent"
	"Web3-Sentinel/internal/auth"
	"Web3-Sentinel/internal/catalog"
	"Web3-Sentinel/internal/job"
	"Web3-Sentinel/internal/observability/metrics"
	"Web3-Sentinel/internal/storage/history"
	"Web3-Sentinel/pkg/logger"
)

// AgentDispatcher 同步执行智能体任务。
type AgentDispatcher interface {
	Dispatch(ctx context.Context, variant string, input agent.TaskInput) (*agent.Task, error)
}

// AgentDirectory 提供智能体描述信息。
type AgentDirectory interface {
	Descriptor(variant string) (agent.Descriptor, error)
	Descriptors() []agent.Descriptor
}

// HistoryReader 查询已结束的任务。
type HistoryReader interface {
	ListLatest(ctx context.Context, filter history.Filter) ([]agent.Task, error)
}

// JobService 是异步任务层的对外能力。
type JobService interface {
	Submit(ctx context.Context, req job.Request) (*job.Job, error)
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, opts ...job.ListOption) ([]*job.Job, error)
	Stats(ctx context.Context, opts ...job.ListOption) (job.Stats, error)
}

// Catalog 聚合威胁、报告与工具目录。
type Catalog interface {
	catalog.ThreatProvider
	catalog.ReportProvider
	catalog.ToolProvider
}

// HealthCheck 在 /healthz 中报告依赖是否可用。
type HealthCheck func(ctx context.Context) error

// Dependencies 汇总处理请求所需的组件，除 Agents 与 Dispatcher 外均可为空。
type Dependencies struct {
	Agents     AgentDirectory
	Dispatcher AgentDispatcher
	History    HistoryReader
	Jobs       JobService
	Catalog    Catalog
	Events     http.Handler
	Metrics    *metrics.Metrics
	Auth       *auth.TokenManager
	Checks     map[string]HealthCheck
}

// Config 控制监听地址与中间件。
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RateLimit    float64
	RateBurst    int
	Compress     bool
	Logger       *slog.Logger
}

// Server 负责暴露 REST 接口，供外部驱动智能体执行。
type Server struct {
	cfg     Config
	deps    Dependencies
	schemas *schemas
	limiter *ipRateLimiter
	logger  *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Agents == nil || deps.Dispatcher == nil {
		return nil, errors.New("api: agents and dispatcher are required")
	}
	compiled, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Named("api")
	}
	s := &Server{cfg: cfg, deps: deps, schemas: compiled, logger: log}
	if cfg.RateLimit > 0 {
		s.limiter = newIPRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return s, nil
}

// Handler 返回装配好路由与中间件的 http.Handler。
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)
	api.HandleFunc("/agents", s.handleDispatch).Methods(http.MethodPost)
	api.HandleFunc("/agents/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/agents/{id}", s.handleGetAgent).Methods(http.MethodGet)

	api.HandleFunc("/tasks", s.handleSubmitJob).Methods(http.MethodPost)
	api.HandleFunc("/tasks", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/tasks/stats", s.handleJobStats).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", s.handleGetJob).Methods(http.MethodGet)

	api.HandleFunc("/threats", s.handleListThreats).Methods(http.MethodGet)
	api.HandleFunc("/threats", s.handleAddThreat).Methods(http.MethodPost)
	api.HandleFunc("/reports", s.handleListReports).Methods(http.MethodGet)
	api.HandleFunc("/reports", s.handleAddReport).Methods(http.MethodPost)
	api.HandleFunc("/tools", s.handleListTools).Methods(http.MethodGet)
	api.HandleFunc("/tools", s.handleAddTool).Methods(http.MethodPost)

	if s.deps.Events != nil {
		api.Handle("/events", s.deps.Events).Methods(http.MethodGet)
	}

	router.Use(s.recoveryMiddleware)
	router.Use(s.loggingMiddleware)
	if s.deps.Metrics != nil {
		router.Use(s.deps.Metrics.Middleware)
	}
	if s.limiter != nil {
		router.Use(s.limiter.Middleware)
	}
	router.Use(s.deps.Auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {auth.PermissionRead},
			http.MethodPost: {auth.PermissionDispatch},
		},
		Routes: []auth.RouteRule{
			{Method: http.MethodPost, Prefix: "/api/threats", Permissions: []string{auth.PermissionCatalog}},
			{Method: http.MethodPost, Prefix: "/api/reports", Permissions: []string{auth.PermissionCatalog}},
			{Method: http.MethodPost, Prefix: "/api/tools", Permissions: []string{auth.PermissionCatalog}},
		},
		PublicPaths: []string{"/healthz", "/metrics"},
	}))

	var handler http.Handler = router
	if s.cfg.Compress {
		compressed := gzhttp.GzipHandler(router)
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if websocket.IsWebSocketUpgrade(r) {
				router.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
	return otelhttp.NewHandler(handler, "sentinel-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	readTimeout := s.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	server := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API 服务启动", slog.String("address", s.cfg.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status": state,
		"agents": len(s.deps.Agents.Descriptors()),
		"checks": checks,
	})
}

// withContext 在服务关闭后拒绝新的请求。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
