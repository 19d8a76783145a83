package playback

import (
	"context"
	"errors"
	"time"
)

// ErrNoListeners 表示没有可接收播放事件的客户端。
var ErrNoListeners = errors.New("[playback] 没有已连接的播放客户端")

// SoundPayload 是交给播放面的播放请求。
type SoundPayload struct {
	AudioOutputDevice Device  `json:"audioOutputDevice"`
	Filepath          string  `json:"filepath"`
	Format            string  `json:"format"`
	MaxSoundLength    float64 `json:"maxSoundLength"` // 秒
	Volume            float64 `json:"volume"`         // 1-10
	ResourceToken     string  `json:"resourceToken,omitempty"`
	OverlayInstance   string  `json:"overlayInstance,omitempty"`
}

// Surface 是一个播放面。Dispatch 返回后播放可能仍在进行。
type Surface interface {
	Dispatch(ctx context.Context, p SoundPayload) error
}

// SurfaceFunc 让普通函数实现 Surface。
type SurfaceFunc func(ctx context.Context, p SoundPayload) error

func (f SurfaceFunc) Dispatch(ctx context.Context, p SoundPayload) error { return f(ctx, p) }

// TokenIssuer 为文件签发限时访问令牌。
type TokenIssuer interface {
	Issue(path string, ttl time.Duration) string
}
