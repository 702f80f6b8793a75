// Package sketch 维护用户已完成的创作会话列表。
package sketch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	model "github.com/zhouzirui/echosketch/backend/internal/model/sketch"
	"github.com/zhouzirui/echosketch/backend/internal/storage/kv"
)

// ErrIncomplete 表示会话为临时会话或字段缺失，不能入库。
var ErrIncomplete = errors.New("session is provisional or incomplete")

// Store keeps finalized sessions, most recent first, and persists them on every add.
type Store struct {
	mu       sync.RWMutex
	kv       kv.Store
	key      string
	sessions []model.Session
}

// NewStore 加载持久化的会话列表；缺失或损坏时从空列表开始。
// 其他读取错误也按空列表处理，需要区分时使用 LoadStore。
func NewStore(ctx context.Context, store kv.Store, key string) *Store {
	s, err := LoadStore(ctx, store, key)
	if err != nil {
		log.Printf("[sketch] 加载会话失败 key=%s: %v", key, err)
		return &Store{kv: store, key: key}
	}
	return s
}

// LoadStore 加载持久化的会话列表。只有缺失或损坏的数据按空列表处理，
// 读取失败时返回错误，避免后续写入覆盖尚未读到的历史。
func LoadStore(ctx context.Context, store kv.Store, key string) (*Store, error) {
	var sessions []model.Session
	if _, err := kv.ReadJSON(ctx, store, key, &sessions); err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	return &Store{kv: store, key: key, sessions: sessions}, nil
}

// List returns a copy of the sessions, most recent first.
func (s *Store) List() []model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Add 将会话插入列表头部并写回存储。
// 写入失败时内存列表保持已添加状态，错误返回给调用方记录。
func (s *Store) Add(ctx context.Context, session model.Session) error {
	if !session.Complete() {
		return ErrIncomplete
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]model.Session, 0, len(s.sessions)+1)
	next = append(next, session)
	next = append(next, s.sessions...)
	s.sessions = next

	// 在锁内写回，保证落盘顺序与内存顺序一致。
	if err := kv.SaveJSON(ctx, s.kv, s.key, next); err != nil {
		log.Printf("[sketch] 持久化会话失败 key=%s: %v", s.key, err)
		return fmt.Errorf("persist sessions: %w", err)
	}
	return nil
}

// Select looks up a stored session by id.
func (s *Store) Select(id string) (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.ID == id {
			return session, true
		}
	}
	return model.Session{}, false
}

// Latest returns the most recent session, if any.
func (s *Store) Latest() (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.sessions) == 0 {
		return model.Session{}, false
	}
	return s.sessions[0], true
}
