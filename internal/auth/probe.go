package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo 启动时对已保存令牌的本地判断
type TokenInfo struct {
	Present   bool
	Expired   bool
	Subject   string
	ExpiresAt *time.Time
}

// Usable 令牌存在且未过期
func (i TokenInfo) Usable() bool {
	return i.Present && !i.Expired
}

// Probe 不校验签名地解析 JWT 声明，只用于判断是否过期。
// 非 JWT 的不透明令牌视为可用，由服务端 401 决定是否失效。
func Probe(token string, now time.Time) TokenInfo {
	if token == "" {
		return TokenInfo{}
	}
	info := TokenInfo{Present: true}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return info
	}

	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		info.ExpiresAt = &t
		info.Expired = !now.Before(t)
	}
	return info
}
