package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "Web3-Sentinel/internal/errors"
	loggerpkg "Web3-Sentinel/pkg/logger"
)

// MiddlewareConfig 配置认证中间件。
type MiddlewareConfig struct {
	// RequiredPermissions 按 HTTP 方法声明所需权限，"*" 为兜底。
	RequiredPermissions map[string][]string
	// Routes 中首个匹配的规则覆盖按方法声明的权限。
	Routes []RouteRule
	// PublicPaths 中的路径前缀无需认证。
	PublicPaths []string
	Audit       *slog.Logger
}

// RouteRule 为某个方法与路径前缀单独声明权限。
type RouteRule struct {
	Method      string
	Prefix      string
	Permissions []string
}

func (c MiddlewareConfig) permissionsFor(method, path string) []string {
	for _, rule := range c.Routes {
		if rule.Method == method && strings.HasPrefix(path, rule.Prefix) {
			return rule.Permissions
		}
	}
	if perms := c.RequiredPermissions[method]; len(perms) > 0 {
		return perms
	}
	return c.RequiredPermissions["*"]
}

// Middleware 返回认证中间件；管理器为 nil 时直接放行。
func (m *TokenManager) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	audit := cfg.Audit
	if audit == nil {
		audit = loggerpkg.Audit()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil || isPublic(cfg.PublicPaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			subject, err := m.Authenticate(r.Header.Get("Authorization"))
			if err != nil {
				deny(w, http.StatusUnauthorized, err)
				audit.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"error", err.Error(),
				)
				return
			}

			if err := subject.Authorize(cfg.permissionsFor(r.Method, r.URL.Path)...); err != nil {
				deny(w, http.StatusForbidden, err)
				audit.Warn("permission_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"user", subject.Username,
					"error", err.Error(),
				)
				return
			}

			start := time.Now()
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
			audit.Info("api_request",
				"method", r.Method,
				"path", r.URL.Path,
				"user", subject.Username,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

func isPublic(prefixes []string, path string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func deny(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="web3-sentinel"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": http.StatusText(status),
		"code":  string(xerrors.CodeOf(err)),
	})
}
