// Package kv 提供按字符串键存取字节值的持久化适配层。
package kv

import (
	"context"
	"errors"
)

// Fixed keys used by the service.
const (
	KeySessions = "echosketch-sessions"
	KeyUsers    = "echosketch-users"
	KeyTokens   = "echosketch-tokens"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("kv: key not found")

// Store 是最小化的键值存储接口。
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// SessionsKey 返回某个用户的会话列表键。
func SessionsKey(userID string) string {
	if userID == "" {
		return KeySessions
	}
	return KeySessions + "/" + userID
}
