package auth

import (
	"fmt"
	"strings"

	xerrors "Web3-Sentinel/internal/errors"
)

// 认证相关的权限名称。
const (
	PermissionRead     = "agents:read"
	PermissionDispatch = "agents:dispatch"
	PermissionCatalog  = "catalog:write"
)

// CodePermissionDenied 表示令牌有效但缺少权限。
const CodePermissionDenied xerrors.Code = "PERMISSION_DENIED"

func init() {
	xerrors.Register(CodePermissionDenied, xerrors.Attributes{
		Message:  "permission denied",
		Severity: xerrors.SeverityWarning,
	})
}

var (
	ErrDisabled         = xerrors.New(xerrors.CodeUnauthorized, "authentication disabled")
	ErrMissingToken     = xerrors.New(xerrors.CodeUnauthorized, "missing bearer token")
	ErrInvalidToken     = xerrors.New(xerrors.CodeUnauthorized, "invalid token")
	ErrPermissionDenied = xerrors.New(CodePermissionDenied, "permission denied")
)

// Subject 描述令牌携带的调用方身份。
type Subject struct {
	Username    string   `json:"username"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`

	permissionsSet map[string]struct{}
}

func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
}

// HasPermission 判断是否拥有指定权限，"*" 表示全部权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	if _, ok := s.permissionsSet["*"]; ok {
		return true
	}
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize 要求主体拥有全部给定权限。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return xerrors.Wrap(CodePermissionDenied, ErrPermissionDenied, fmt.Sprintf("missing %s", perm))
		}
	}
	return nil
}

// Clone 返回主体的副本。
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := &Subject{
		Username:    s.Username,
		Roles:       append([]string(nil), s.Roles...),
		Permissions: append([]string(nil), s.Permissions...),
	}
	clone.normalise()
	return clone
}
