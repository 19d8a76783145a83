package playback

import (
	"strings"
	"sync"
)

const (
	// OverlayDeviceID 表示由浏览器 overlay 播放。
	OverlayDeviceID = "overlay"
	// AppDefaultLabel 表示使用宿主当前的默认输出设备。
	AppDefaultLabel = "App Default"
)

// Device 音频输出设备，与宿主的 audioOutputDevice 结构一致。
type Device struct {
	ID    string `json:"deviceId,omitempty"`
	Label string `json:"label,omitempty"`
}

// IsAppDefault 报告设备是否需要解析为宿主默认设备。
func (d Device) IsAppDefault() bool {
	return (d.ID == "" && d.Label == "") || strings.EqualFold(d.Label, AppDefaultLabel)
}

// Target 播放面。
type Target int

const (
	TargetLocal Target = iota
	TargetOverlay
)

func (t Target) String() string {
	if t == TargetOverlay {
		return "overlay"
	}
	return "local"
}

// Settings 提供播放相关的宿主设置，每次分发时读取。
type Settings interface {
	DefaultDevice() Device
	UseOverlayInstances() bool
	OverlayInstances() []string
}

// SettingsStore 是可在运行时修改的 Settings 实现。
type SettingsStore struct {
	mu           sync.RWMutex
	device       Device
	useInstances bool
	instances    []string
}

// NewSettingsStore 创建设置。
func NewSettingsStore(device Device, useInstances bool, instances []string) *SettingsStore {
	return &SettingsStore{device: device, useInstances: useInstances, instances: append([]string(nil), instances...)}
}

func (s *SettingsStore) DefaultDevice() Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

func (s *SettingsStore) UseOverlayInstances() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.useInstances
}

func (s *SettingsStore) OverlayInstances() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.instances...)
}

// SetDefaultDevice 修改默认输出设备。
func (s *SettingsStore) SetDefaultDevice(d Device) {
	s.mu.Lock()
	s.device = d
	s.mu.Unlock()
}

// SetOverlayInstances 修改 overlay 实例配置。
func (s *SettingsStore) SetOverlayInstances(enabled bool, instances []string) {
	s.mu.Lock()
	s.useInstances = enabled
	s.instances = append([]string(nil), instances...)
	s.mu.Unlock()
}

// Decision 路由结果。
type Decision struct {
	Device   Device
	Target   Target
	Instance string // 仅 overlay 且启用实例时非空
}

// Router 决定一次播放交给 overlay 还是本地播放面。
type Router struct {
	settings Settings
}

// NewRouter 创建路由器。
func NewRouter(settings Settings) *Router {
	return &Router{settings: settings}
}

// Resolve 把 "App Default" 或未设置的设备解析为宿主当前默认设备。
func (r *Router) Resolve(d Device) Device {
	if d.IsAppDefault() {
		return r.settings.DefaultDevice()
	}
	return d
}

// Route 解析设备并选择播放面。请求的 overlay 实例只有在启用实例且实例已知时才保留。
func (r *Router) Route(d Device, instance string) Decision {
	dev := r.Resolve(d)
	if dev.ID != OverlayDeviceID {
		return Decision{Device: dev, Target: TargetLocal}
	}

	dec := Decision{Device: dev, Target: TargetOverlay}
	if instance != "" && r.settings.UseOverlayInstances() {
		for _, known := range r.settings.OverlayInstances() {
			if known == instance {
				dec.Instance = instance
				break
			}
		}
	}
	return dec
}
