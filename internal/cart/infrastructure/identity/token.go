package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var errNoSubject = errors.New("token carries no user id claim")

// userIDClaims 按顺序查找的用户 ID 声明
var userIDClaims = []string{"sub", "user_id", "userId", "id", "_id"}

// TokenParser 从访问令牌中解析用户 ID。
// 配置了密钥时校验 HMAC 签名，否则只解码不校验（令牌由后端签发，客户端无密钥）。
type TokenParser struct {
	secret []byte
}

// NewTokenParser 创建令牌解析器
func NewTokenParser(secret string) *TokenParser {
	return &TokenParser{secret: []byte(secret)}
}

// UserID 解析令牌中的用户 ID
func (p *TokenParser) UserID(raw string) (string, error) {
	claims := jwt.MapClaims{}

	if len(p.secret) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			return "", fmt.Errorf("decode token: %w", err)
		}
	} else {
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return p.secret, nil
		}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
		if err != nil {
			return "", fmt.Errorf("verify token: %w", err)
		}
	}

	for _, name := range userIDClaims {
		switch v := claims[name].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return fmt.Sprintf("%.0f", v), nil
		}
	}
	return "", errNoSubject
}
