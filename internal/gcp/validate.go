package gcp

import (
	"math"
	"strings"

	"github.com/iabetor/gcptts/internal/logger"
)

// 接口允许的音频参数范围。
const (
	MinPitch        = -20.0
	MaxPitch        = 20.0
	MinSpeakingRate = 0.25
	MaxSpeakingRate = 4.0
	MinVolumeGainDB = -96.0
	MaxVolumeGainDB = 16.0
)

// ValidateSynthesis 在发出请求前检查合成参数，返回 *ValidationError。
// 语音名称不以语言代码开头时只记录警告。
func ValidateSynthesis(version APIVersion, input SynthesisInput, voice VoiceSelection, audio AudioConfig) error {
	switch {
	case input.Text != "" && input.SSML != "":
		return invalid("input", "text 与 ssml 互斥")
	case input.Text == "" && input.SSML == "":
		return invalid("input", "缺少 text 或 ssml")
	}

	if voice.Name == "" && voice.LanguageCode == "" {
		return invalid("voice", "name 与 languageCode 至少需要一个")
	}
	if voice.Name != "" && voice.LanguageCode != "" &&
		!strings.HasPrefix(strings.ToLower(voice.Name), strings.ToLower(voice.LanguageCode)) {
		logger.Warnf("[gcp] 语音 %q 不明确支持语言 %q，请求可能失败", voice.Name, voice.LanguageCode)
	}

	if !audio.AudioEncoding.SupportedBy(version) {
		return invalid("audioEncoding", "%s 接口不支持编码 %q", version, audio.AudioEncoding)
	}
	if err := checkRange("pitch", audio.Pitch, MinPitch, MaxPitch); err != nil {
		return err
	}
	if err := checkRange("speakingRate", audio.SpeakingRate, MinSpeakingRate, MaxSpeakingRate); err != nil {
		return err
	}
	if err := checkRange("volumeGainDb", audio.VolumeGainDB, MinVolumeGainDB, MaxVolumeGainDB); err != nil {
		return err
	}

	seen := make(map[string]bool, len(audio.EffectsProfileID))
	for _, p := range audio.EffectsProfileID {
		if !ValidEffectProfile(p) {
			return invalid("effectsProfileId", "未知的音效配置 %q", p)
		}
		if seen[p] {
			return invalid("effectsProfileId", "音效配置 %q 重复", p)
		}
		seen[p] = true
	}
	return nil
}

func checkRange(field string, v *float64, min, max float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || *v < min || *v > max {
		return invalid(field, "取值 %v 超出范围 [%v, %v]", *v, min, max)
	}
	return nil
}
