// Package integration 管理访问 Google Cloud 所需的凭据集成。
package integration

import (
	"strings"
	"sync"

	"github.com/iabetor/gcptts/internal/gcp"
	"github.com/iabetor/gcptts/internal/logger"
)

// APIKeyID 是 API Key 集成的标识。
const APIKeyID = "google-cloud-key"

// minKeyLength 是被视为已配置的最短 key 长度。
const minKeyLength = 16

// Settings 集成的连接设置。
type Settings struct {
	Referrer  string `json:"referrer"`
	UserAgent string `json:"userAgent"`
}

// Status 集成当前状态。
type Status struct {
	ID         string `json:"id"`
	Configured bool   `json:"configured"`
	Connected  bool   `json:"connected"`
}

// APIKey 基于 API Key 的集成。只有配置了有效 key 才能连接。
type APIKey struct {
	mu         sync.RWMutex
	key        string
	settings   Settings
	configured bool
	connected  bool
	onChange   func(Status)
}

// NewAPIKey 创建未配置的 API Key 集成。
func NewAPIKey() *APIKey {
	return &APIKey{}
}

// ID 返回集成标识。
func (a *APIKey) ID() string { return APIKeyID }

// OnChange 注册连接状态变化回调。
func (a *APIKey) OnChange(fn func(Status)) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// Configure 更新 key 与连接设置，返回是否已配置。key 无效时会断开连接。
func (a *APIKey) Configure(key string, settings Settings) bool {
	key = strings.TrimSpace(key)

	a.mu.Lock()
	a.key = key
	a.settings = settings
	a.configured = len(key) >= minKeyLength
	changed := a.setConnectedLocked(a.connected)
	status, fn := a.statusLocked(), a.onChange
	a.mu.Unlock()

	if !status.Configured && key != "" {
		logger.Warnf("[integration] API Key 长度不足 %d，视为未配置", minKeyLength)
	}
	if changed && fn != nil {
		fn(status)
	}
	return status.Configured
}

// Connect 尝试连接，未配置时失败。
func (a *APIKey) Connect() bool {
	a.mu.Lock()
	changed := a.setConnectedLocked(true)
	status, fn := a.statusLocked(), a.onChange
	a.mu.Unlock()

	if !status.Configured {
		logger.Warnf("[integration] 尝试在未配置时连接 %s", APIKeyID)
	} else if changed {
		logger.Infof("[integration] 已连接 %s", APIKeyID)
	}
	if changed && fn != nil {
		fn(status)
	}
	return status.Connected
}

// Disconnect 断开连接。
func (a *APIKey) Disconnect() {
	a.mu.Lock()
	changed := a.setConnectedLocked(false)
	status, fn := a.statusLocked(), a.onChange
	a.mu.Unlock()

	if changed {
		logger.Infof("[integration] 已断开 %s", APIKeyID)
		if fn != nil {
			fn(status)
		}
	}
}

func (a *APIKey) setConnectedLocked(want bool) bool {
	next := want && a.configured
	if next == a.connected {
		return false
	}
	a.connected = next
	return true
}

func (a *APIKey) statusLocked() Status {
	return Status{ID: APIKeyID, Configured: a.configured, Connected: a.connected}
}

// Status 返回当前状态。
func (a *APIKey) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.statusLocked()
}

// Connected 报告是否已连接。
func (a *APIKey) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// Credential 实现 gcp.Credentials。
func (a *APIKey) Credential() (gcp.Credential, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return gcp.Credential{}, false
	}
	return gcp.Credential{Key: a.key, Referrer: a.settings.Referrer, UserAgent: a.settings.UserAgent}, true
}
