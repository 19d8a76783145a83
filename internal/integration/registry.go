package integration

import (
	"strings"
	"sync"

	"github.com/iabetor/gcptts/internal/gcp"
	"github.com/iabetor/gcptts/internal/logger"
)

// Integration 是一个可提供凭据的集成。
type Integration interface {
	gcp.Credentials
	ID() string
	Connected() bool
}

// Registry 按注册顺序保存集成，取第一个已连接者的凭据。
type Registry struct {
	mu    sync.RWMutex
	items []Integration
}

// NewRegistry 创建注册表。
func NewRegistry(items ...Integration) *Registry {
	r := &Registry{}
	for _, it := range items {
		r.Add(it)
	}
	return r
}

// Add 注册集成，ID 重复（大小写不敏感）时忽略并返回 false。
func (r *Registry) Add(it Integration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if strings.EqualFold(existing.ID(), it.ID()) {
			logger.Warnf("[integration] 集成 %s 已注册", it.ID())
			return false
		}
	}
	r.items = append(r.items, it)
	return true
}

// Connected 返回所有已连接的集成。
func (r *Registry) Connected() []Integration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Integration
	for _, it := range r.items {
		if it.Connected() {
			out = append(out, it)
		}
	}
	return out
}

// Credential 实现 gcp.Credentials。
func (r *Registry) Credential() (gcp.Credential, bool) {
	for _, it := range r.Connected() {
		if cred, ok := it.Credential(); ok {
			return cred, true
		}
	}
	return gcp.Credential{}, false
}
