package creation

import (
	"context"
	"fmt"
	"log"
	"sync"

	sketchsvc "github.com/zhouzirui/echosketch/backend/internal/service/sketch"
	"github.com/zhouzirui/echosketch/backend/internal/storage/kv"
)

// Registry 为每个用户懒加载一个独立的工作区（编排器 + 会话列表）。
type Registry struct {
	mu         sync.Mutex
	store      kv.Store
	enhancer   Enhancer
	generator  Generator
	opts       []Option
	workspaces map[string]*Orchestrator
}

// NewRegistry creates an empty registry backed by store.
func NewRegistry(store kv.Store, enhancer Enhancer, generator Generator, opts ...Option) *Registry {
	return &Registry{
		store:      store,
		enhancer:   enhancer,
		generator:  generator,
		opts:       opts,
		workspaces: make(map[string]*Orchestrator),
	}
}

// Workspace returns the orchestrator for userID, loading its sessions on first use.
// A failed load is not cached, so the next call retries it.
func (r *Registry) Workspace(ctx context.Context, userID string) (*Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ws, ok := r.workspaces[userID]; ok {
		return ws, nil
	}

	// 工作区会被缓存到进程结束，加载不能跟随单个请求取消
	store, err := sketchsvc.LoadStore(context.WithoutCancel(ctx), r.store, kv.SessionsKey(userID))
	if err != nil {
		log.Printf("[creation] 加载工作区失败 user=%s: %v", userID, err)
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	ws := NewOrchestrator(store, r.enhancer, r.generator, r.opts...)
	r.workspaces[userID] = ws
	return ws, nil
}
