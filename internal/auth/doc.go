// Package auth 为 HTTP 接口提供可选的 Bearer Token 认证。
// 令牌使用 HS256 签名，权限随令牌下发，不依赖用户库。
package auth
