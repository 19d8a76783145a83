package synth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iabetor/gcptts/internal/gcp"
	"github.com/iabetor/gcptts/internal/logger"
	"github.com/iabetor/gcptts/internal/playback"
)

// SettingsSchemaVersion 是当前的效果设置版本。
// 版本 0 使用 effectPitch / effectRate / effectVolume / voice 字段。
const SettingsSchemaVersion = 1

// StopOnError 出错时对宿主效果队列的处理方式。
type StopOnError string

const (
	StopNone       StopOnError = ""
	StopStop       StopOnError = "stop"
	StopBubble     StopOnError = "bubble"
	StopBubbleStop StopOnError = "bubbleStop"
)

// UnmarshalJSON 接受 false、true、"true" 以及各枚举字符串。
func (s *StopOnError) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			*s = StopStop
		} else {
			*s = StopNone
		}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("stopOnError 必须是布尔值或字符串: %w", err)
	}
	switch str {
	case "", "false":
		*s = StopNone
	case "true", "stop":
		*s = StopStop
	case "bubble":
		*s = StopBubble
	case "bubbleStop":
		*s = StopBubbleStop
	default:
		return fmt.Errorf("未知的 stopOnError 取值 %q", str)
	}
	return nil
}

// Execution 控制宿主是否停止后续效果。
type Execution struct {
	Stop       bool `json:"stop"`
	BubbleStop bool `json:"bubbleStop"`
}

// Execution 返回失败时应上报的执行控制。
func (s StopOnError) Execution() Execution {
	return Execution{
		Stop:       s == StopStop || s == StopBubbleStop,
		BubbleStop: s == StopBubble || s == StopBubbleStop,
	}
}

// EffectSettings 是宿主保存的合成效果配置。
type EffectSettings struct {
	SchemaVersion     int              `json:"schemaVersion,omitempty"`
	AmplitudeAdjust   *float64         `json:"amplitudeAdjust,omitempty"`
	APIVersion        string           `json:"apiVersion,omitempty"`
	AudioFormat       string           `json:"audioFormat,omitempty"`
	AudioOutputDevice *playback.Device `json:"audioOutputDevice,omitempty"`
	EffectProfiles    []string         `json:"effectProfiles,omitempty"`
	FallbackVoiceName string           `json:"fallbackVoiceName,omitempty"`
	Language          string           `json:"language,omitempty"`
	OutputVolume      *float64         `json:"outputVolume,omitempty"`
	OverlayInstance   string           `json:"overlayInstance,omitempty"`
	PitchAdjust       *float64         `json:"pitchAdjust,omitempty"`
	SpeakingRate      *float64         `json:"speakingRate,omitempty"`
	SSML              bool             `json:"ssml"`
	StopOnError       StopOnError      `json:"stopOnError,omitempty"`
	Text              string           `json:"text"`
	VariableVoice     bool             `json:"variableVoice,omitempty"`
	VoiceName         string           `json:"voiceName,omitempty"`
	WaitForPlayback   *bool            `json:"waitForPlayback,omitempty"`

	// 版本 0 字段
	EffectPitch  *float64 `json:"effectPitch,omitempty"`
	EffectRate   *float64 `json:"effectRate,omitempty"`
	EffectVolume *float64 `json:"effectVolume,omitempty"`
	Voice        string   `json:"voice,omitempty"`
}

// MigrateSettings 把旧版本设置升级到当前版本并填充默认值。
// 新字段已有值时旧字段被丢弃。
func MigrateSettings(s EffectSettings) EffectSettings {
	if s.SchemaVersion < 1 {
		if s.AmplitudeAdjust == nil {
			s.AmplitudeAdjust = s.EffectVolume
		}
		if s.PitchAdjust == nil {
			s.PitchAdjust = s.EffectPitch
		}
		if s.SpeakingRate == nil {
			s.SpeakingRate = s.EffectRate
		}
		if s.VoiceName == "" {
			s.VoiceName = s.Voice
		}
		if s.EffectVolume != nil || s.EffectPitch != nil || s.EffectRate != nil || s.Voice != "" {
			logger.Debugf("[synth] 已迁移旧版效果设置 (voice=%q)", s.VoiceName)
		}
	}
	s.EffectVolume, s.EffectPitch, s.EffectRate, s.Voice = nil, nil, nil, ""
	s.SchemaVersion = SettingsSchemaVersion

	if s.APIVersion == "" {
		s.APIVersion = string(gcp.V1)
	}
	if s.AudioFormat == "" {
		s.AudioFormat = string(gcp.EncodingOggOpus)
	}
	if s.AmplitudeAdjust == nil {
		s.AmplitudeAdjust = floatPtr(0)
	}
	if s.PitchAdjust == nil {
		s.PitchAdjust = floatPtr(0)
	}
	if s.SpeakingRate == nil {
		s.SpeakingRate = floatPtr(1)
	}
	if s.OutputVolume == nil {
		s.OutputVolume = floatPtr(DefaultVolume)
	}
	if s.WaitForPlayback == nil {
		wait := true
		s.WaitForPlayback = &wait
	}
	return s
}

// ToRequest 迁移设置并转换为合成请求。未知的音频格式退回 OGG_OPUS。
func (s EffectSettings) ToRequest() (Request, error) {
	s = MigrateSettings(s)

	version, err := gcp.ParseAPIVersion(s.APIVersion)
	if err != nil {
		return Request{}, &ValidationError{Field: "apiVersion", Err: err}
	}

	encoding := gcp.AudioEncoding(strings.ToUpper(s.AudioFormat))
	if !knownEncoding(encoding) {
		logger.Warnf("[synth] 未知的音频格式 %q，改用 OGG_OPUS", s.AudioFormat)
		encoding = gcp.EncodingOggOpus
	}

	req := Request{
		Text:              s.Text,
		SSML:              s.SSML,
		VoiceName:         s.VoiceName,
		FallbackVoiceName: s.FallbackVoiceName,
		VariableVoice:     s.VariableVoice,
		LanguageCode:      s.Language,
		APIVersion:        version,
		Encoding:          encoding,
		EffectProfiles:    s.EffectProfiles,
		Pitch:             *s.PitchAdjust,
		SpeakingRate:      *s.SpeakingRate,
		AmplitudeGainDB:   *s.AmplitudeAdjust,
		Volume:            *s.OutputVolume,
		OverlayInstance:   s.OverlayInstance,
		WaitForPlayback:   *s.WaitForPlayback,
	}
	if s.AudioOutputDevice != nil {
		req.Device = *s.AudioOutputDevice
	}
	return req, nil
}

func knownEncoding(e gcp.AudioEncoding) bool {
	return e.SupportedBy(gcp.V1Beta1)
}

// EffectOutputs 效果输出，供宿主后续效果引用。
type EffectOutputs struct {
	TTSUsage Usage `json:"ttsUsage"`
}

// EffectResult 是返回给宿主的效果执行结果。成功时不带 execution。
type EffectResult struct {
	Success   bool          `json:"success"`
	Execution *Execution    `json:"execution,omitempty"`
	Outputs   EffectOutputs `json:"outputs"`
}

// NewEffectResult 根据执行结果和出错策略构造效果结果。
func NewEffectResult(stop StopOnError, out Outcome) EffectResult {
	res := EffectResult{Success: out.Success, Outputs: EffectOutputs{TTSUsage: out.Usage}}
	if !out.Success {
		exec := stop.Execution()
		res.Execution = &exec
	}
	return res
}
