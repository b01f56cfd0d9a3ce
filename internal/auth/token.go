package auth

import (
	stdErrors "errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	xerrors "Web3-Sentinel/internal/errors"
)

const defaultTokenTTL = time.Hour

// Config 配置令牌签发与校验。
type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// claims 是令牌中的自定义声明。
type claims struct {
	jwt.RegisteredClaims
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// TokenManager 负责 HS256 令牌的签发与校验。
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager 创建令牌管理器；Secret 为空时返回 ErrDisabled。
func NewTokenManager(cfg Config) (*TokenManager, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, ErrDisabled
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenManager{
		secret: []byte(secret),
		issuer: strings.TrimSpace(cfg.Issuer),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue 为主体签发访问令牌。
func (m *TokenManager) Issue(subject *Subject) (string, error) {
	if subject == nil || strings.TrimSpace(subject.Username) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "subject username required")
	}
	now := m.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.Username,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Roles:       append([]string(nil), subject.Roles...),
		Permissions: append([]string(nil), subject.Permissions...),
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "sign token")
	}
	return signed, nil
}

// Verify 校验令牌签名、有效期与签发者。
func (m *TokenManager) Verify(raw string) (*Subject, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if stdErrors.Is(err, jwt.ErrTokenExpired) {
			return nil, xerrors.Wrap(xerrors.CodeUnauthorized, err, "token expired")
		}
		return nil, xerrors.Wrap(xerrors.CodeUnauthorized, err, "invalid token")
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return nil, ErrInvalidToken
	}

	subject := &Subject{
		Username:    parsed.Subject,
		Roles:       parsed.Roles,
		Permissions: parsed.Permissions,
	}
	subject.normalise()
	return subject, nil
}

// Authenticate 解析 Authorization 头并校验其中的 Bearer 令牌。
func (m *TokenManager) Authenticate(authorization string) (*Subject, error) {
	if m == nil {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	return m.Verify(token)
}
