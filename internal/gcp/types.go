package gcp

import (
	"fmt"
	"strings"
)

// APIVersion Text-to-Speech 接口版本。
type APIVersion string

const (
	V1      APIVersion = "v1"
	V1Beta1 APIVersion = "v1beta1"
)

// ParseAPIVersion 解析接口版本，接受 v1、v1beta1 以及宿主使用的简写 v1b1，空串视为 v1。
func ParseAPIVersion(s string) (APIVersion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "v1":
		return V1, nil
	case "v1beta1", "v1b1":
		return V1Beta1, nil
	default:
		return "", &ValidationError{Field: "apiVersion", Reason: fmt.Sprintf("不支持的接口版本 %q", s)}
	}
}

// AudioEncoding 合成音频的编码格式。
type AudioEncoding string

const (
	EncodingALAW      AudioEncoding = "ALAW"
	EncodingLinear16  AudioEncoding = "LINEAR16"
	EncodingMP3       AudioEncoding = "MP3"
	EncodingMP364Kbps AudioEncoding = "MP3_64_KBPS"
	EncodingMULAW     AudioEncoding = "MULAW"
	EncodingOggOpus   AudioEncoding = "OGG_OPUS"
)

// SupportedBy 报告编码是否被指定版本的接口支持。MP3_64_KBPS 仅 v1beta1 可用。
func (e AudioEncoding) SupportedBy(v APIVersion) bool {
	switch e {
	case EncodingALAW, EncodingLinear16, EncodingMP3, EncodingMULAW, EncodingOggOpus:
		return true
	case EncodingMP364Kbps:
		return v == V1Beta1
	}
	return false
}

// FileExtension 返回该编码写盘时使用的扩展名。
func (e AudioEncoding) FileExtension() string {
	switch e {
	case EncodingALAW, EncodingLinear16, EncodingMULAW:
		return "wav"
	case EncodingMP3, EncodingMP364Kbps:
		return "mp3"
	default:
		return "ogg"
	}
}

// EffectProfiles 是接口接受的设备音效配置。
var EffectProfiles = []string{
	"wearable-class-device",
	"handset-class-device",
	"headphone-class-device",
	"small-bluetooth-speaker-class-device",
	"medium-bluetooth-speaker-class-device",
	"large-home-entertainment-class-device",
	"large-automotive-class-device",
	"telephony-class-application",
}

// ValidEffectProfile 判断音效配置 ID 是否被接口支持。
func ValidEffectProfile(id string) bool {
	for _, p := range EffectProfiles {
		if p == id {
			return true
		}
	}
	return false
}

// SynthesisInput 合成输入，Text 与 SSML 必须且只能设置一个。
type SynthesisInput struct {
	Text string `json:"text,omitempty"`
	SSML string `json:"ssml,omitempty"`
}

// VoiceSelection 语音选择参数。
type VoiceSelection struct {
	LanguageCode string `json:"languageCode,omitempty"`
	Name         string `json:"name,omitempty"`
	SSMLGender   string `json:"ssmlGender,omitempty"`
}

// AudioConfig 音频参数。nil 表示不发送，由接口使用默认值。
type AudioConfig struct {
	AudioEncoding    AudioEncoding `json:"audioEncoding"`
	EffectsProfileID []string      `json:"effectsProfileId,omitempty"`
	Pitch            *float64      `json:"pitch,omitempty"`
	SampleRateHertz  int           `json:"sampleRateHertz,omitempty"`
	SpeakingRate     *float64      `json:"speakingRate,omitempty"`
	VolumeGainDB     *float64      `json:"volumeGainDb,omitempty"`
}

type synthesizeRequest struct {
	Input       SynthesisInput `json:"input"`
	Voice       VoiceSelection `json:"voice"`
	AudioConfig AudioConfig    `json:"audioConfig"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
