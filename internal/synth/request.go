package synth

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/iabetor/gcptts/internal/gcp"
	"github.com/iabetor/gcptts/internal/playback"
	"github.com/iabetor/gcptts/internal/ssml"
)

// 播放音量范围，与宿主一致。
const (
	MinVolume     = 1.0
	MaxVolume     = 10.0
	DefaultVolume = 5.0
)

// ErrUnknownVoice 表示请求的语音及其备用语音都不在目录中。
var ErrUnknownVoice = errors.New("未知的语音")

// ValidationError 请求在合成前被拒绝，不会产生网络请求或临时文件。
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Reason == "" && e.Err != nil {
		return fmt.Sprintf("[synth] 参数 %s 无效: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("[synth] 参数 %s 无效: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Request 一次合成请求。
type Request struct {
	Text              string
	SSML              bool
	VoiceName         string
	FallbackVoiceName string
	VariableVoice     bool   // 允许 VoiceName 未知时使用 FallbackVoiceName
	LanguageCode      string // 为空时按语音名称推断
	APIVersion        gcp.APIVersion
	Encoding          gcp.AudioEncoding
	EffectProfiles    []string
	Pitch             float64 // [-20, 20]
	SpeakingRate      float64 // [0.25, 4]，0 表示默认值 1
	AmplitudeGainDB   float64 // [-96, 16]
	Volume            float64 // [1, 10]，0 表示默认值 5
	Device            playback.Device
	OverlayInstance   string
	WaitForPlayback   bool
	// Timeout 限制合成接口调用的时长，0 表示不限制。
	Timeout time.Duration
}

// withDefaults 填充零值字段。
func (r Request) withDefaults() Request {
	if r.APIVersion == "" {
		r.APIVersion = gcp.V1
	}
	if r.Encoding == "" {
		r.Encoding = gcp.EncodingOggOpus
	}
	if r.SpeakingRate == 0 {
		r.SpeakingRate = 1
	}
	if r.Volume == 0 {
		r.Volume = DefaultVolume
	}
	return r
}

// Validate 检查请求参数，不访问目录和网络。
func (r Request) Validate() error {
	r = r.withDefaults()

	if strings.TrimSpace(r.Text) == "" {
		return &ValidationError{Field: "text", Reason: "不能为空"}
	}
	if !r.Encoding.SupportedBy(r.APIVersion) {
		return &ValidationError{Field: "audioEncoding", Reason: fmt.Sprintf("%s 接口不支持编码 %q", r.APIVersion, r.Encoding)}
	}
	checks := []struct {
		field    string
		v        float64
		min, max float64
	}{
		{"pitchAdjust", r.Pitch, gcp.MinPitch, gcp.MaxPitch},
		{"speakingRate", r.SpeakingRate, gcp.MinSpeakingRate, gcp.MaxSpeakingRate},
		{"amplitudeAdjust", r.AmplitudeGainDB, gcp.MinVolumeGainDB, gcp.MaxVolumeGainDB},
		{"outputVolume", r.Volume, MinVolume, MaxVolume},
	}
	for _, c := range checks {
		if math.IsNaN(c.v) || c.v < c.min || c.v > c.max {
			return &ValidationError{Field: c.field, Reason: fmt.Sprintf("取值 %v 超出范围 [%v, %v]", c.v, c.min, c.max)}
		}
	}

	seen := make(map[string]bool, len(r.EffectProfiles))
	for _, p := range r.EffectProfiles {
		if !gcp.ValidEffectProfile(p) {
			return &ValidationError{Field: "effectProfiles", Reason: fmt.Sprintf("未知的音效配置 %q", p)}
		}
		if seen[p] {
			return &ValidationError{Field: "effectProfiles", Reason: fmt.Sprintf("音效配置 %q 重复", p)}
		}
		seen[p] = true
	}
	return nil
}

// audioConfig 构造接口音频参数，等于接口默认值的字段被省略。
func (r Request) audioConfig() gcp.AudioConfig {
	cfg := gcp.AudioConfig{AudioEncoding: r.Encoding}
	if len(r.EffectProfiles) > 0 {
		cfg.EffectsProfileID = append([]string(nil), r.EffectProfiles...)
	}
	if r.Pitch != 0 {
		cfg.Pitch = floatPtr(r.Pitch)
	}
	if r.SpeakingRate != 1 {
		cfg.SpeakingRate = floatPtr(r.SpeakingRate)
	}
	if r.AmplitudeGainDB != 0 {
		cfg.VolumeGainDB = floatPtr(r.AmplitudeGainDB)
	}
	return cfg
}

func (r Request) input() gcp.SynthesisInput {
	if r.SSML {
		return gcp.SynthesisInput{SSML: ssml.Wrap(r.Text)}
	}
	return gcp.SynthesisInput{Text: r.Text}
}

func floatPtr(v float64) *float64 { return &v }
