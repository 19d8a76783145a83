// Package synth 把一次合成请求变成已播放并清理的音频：
// 合成 → 测量时长 → 播放 → 删除临时文件。
package synth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/iabetor/gcptts/internal/catalog"
	"github.com/iabetor/gcptts/internal/gcp"
	"github.com/iabetor/gcptts/internal/logger"
	"github.com/iabetor/gcptts/internal/metrics"
	"github.com/iabetor/gcptts/internal/playback"
)

const (
	// DefaultFallbackDuration 无法测得时长时假定的播放时长。
	DefaultFallbackDuration = 30 * time.Second
	// 非等待模式下，删除文件前在播放时长之外多等的时间。
	deleteGrace = time.Second
	// MaxPlausibleDuration 超过该时长的测量结果视为不可信。
	// 接口单次输入上限为 5000 字节，合成结果远短于此。
	MaxPlausibleDuration = 10 * time.Minute
)

// VoiceCatalog 提供语音元数据，由 *catalog.Store 实现。
type VoiceCatalog interface {
	IsKnownVoiceName(name string) bool
	LocaleFor(voiceName string) (catalog.Locale, bool)
	PricingTier(voiceName string) catalog.PricingTier
	VoiceType(voiceName string) catalog.VoiceType
}

// Synthesizer 调用远端合成接口，由 *gcp.Client 实现。
type Synthesizer interface {
	Synthesize(ctx context.Context, version gcp.APIVersion, input gcp.SynthesisInput, voice gcp.VoiceSelection, audio gcp.AudioConfig) (string, error)
}

// UsageRecorder 记录计费单位。
type UsageRecorder interface {
	Record(ctx context.Context, pricing string, units int) error
}

// Usage 一次合成的计费信息。未计费时 PricingBucket 为 nil。
type Usage struct {
	BilledUnits   int     `json:"billedUnits"`
	PricingBucket *string `json:"pricingBucket"`
	VoiceName     *string `json:"voiceName"`
	VoiceType     *string `json:"voiceType"`
}

// Outcome 单次执行的结果。播放已成功提交即视为成功，不要求播放结束。
type Outcome struct {
	Success   bool
	Usage     Usage
	AudioFile string
	Duration  time.Duration
	State     State
	Err       error // 失败原因，仅用于日志和测试
}

// Config 流水线配置。
type Config struct {
	TempDir          string
	FallbackDuration time.Duration
}

// Deps 流水线依赖的协作者。Overlay 与 Local 为 nil 时对应路由会失败。
type Deps struct {
	Catalog     VoiceCatalog
	Synthesizer Synthesizer
	Prober      playback.Prober
	Router      *playback.Router
	Overlay     playback.Surface
	Local       playback.Surface
	Tokens      playback.TokenIssuer
	Usage       UsageRecorder
}

// Pipeline 执行合成请求。各次执行互不共享可变状态，可以并发调用 Run。
type Pipeline struct {
	deps     Deps
	tempDir  string
	fallback time.Duration

	// 以下字段在测试中替换
	after     func(d time.Duration) <-chan time.Time
	afterFunc func(d time.Duration, f func())
	newID     func() string
	remove    func(path string) error
}

// New 创建流水线。
func New(cfg Config, deps Deps) *Pipeline {
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	fallback := cfg.FallbackDuration
	if fallback <= 0 {
		fallback = DefaultFallbackDuration
	}
	return &Pipeline{
		deps:      deps,
		tempDir:   tempDir,
		fallback:  fallback,
		after:     time.After,
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		newID:     uuid.NewString,
		remove:    os.Remove,
	}
}

// Run 执行一次合成。只有参数校验失败时返回 error（此时不会产生网络请求和临时文件），
// 其余失败都体现在 Outcome 中。
func (p *Pipeline) Run(ctx context.Context, req Request) (Outcome, error) {
	sm := NewStateMachine()
	sm.SetOnChange(func(from, to State) { logger.Debugf("[synth] 状态 %s -> %s", from, to) })
	out := Outcome{State: StateIdle}

	req = req.withDefaults()
	if err := req.Validate(); err != nil {
		return p.invalid(out, err)
	}
	voice, err := p.resolveVoice(req)
	if err != nil {
		return p.invalid(out, err)
	}
	req.VoiceName = voice
	voiceType := string(p.deps.Catalog.VoiceType(voice))
	out.Usage.VoiceName = &voice
	out.Usage.VoiceType = &voiceType

	// 合成
	sm.Transition(StateSynthesizing)
	path, err := p.synthesize(ctx, req, &out)
	if err != nil {
		var ve *gcp.ValidationError
		if errors.As(err, &ve) {
			return p.invalid(out, &ValidationError{Field: ve.Field, Err: ve})
		}
		return p.fail(sm, out, err), nil
	}
	out.AudioFile = path

	// 测量时长
	sm.Transition(StateMeasuringDuration)
	out.Duration = p.measure(ctx, path, req.Encoding.FileExtension())

	// 播放
	sm.Transition(StatePlaying)
	if err := p.dispatch(ctx, req, path, out.Duration); err != nil {
		if rerr := p.remove(path); rerr != nil && !os.IsNotExist(rerr) {
			logger.Warnf("[synth] 删除音频文件 %s 失败: %v", path, rerr)
		}
		return p.fail(sm, out, err), nil
	}
	out.Success = true
	metrics.RecordSynthesis("success")

	// 清理
	if req.WaitForPlayback {
		sm.Transition(StateWaitingForPlaybackEnd)
		p.waitAndDelete(ctx, path, out.Duration)
	} else {
		sm.Transition(StateFireAndForget)
		p.afterFunc(out.Duration+deleteGrace, func() { p.deleteFile(path, "异步") })
	}
	sm.Transition(StateDone)
	out.State = sm.Current()

	logger.Debugf("[synth] 已使用 %s 合成 %d 个字符", voice, utf8.RuneCountInString(req.Text))
	return out, nil
}

func (p *Pipeline) invalid(out Outcome, err error) (Outcome, error) {
	logger.Warnf("%v", err)
	metrics.RecordSynthesis("invalid")
	out.Err = err
	return out, err
}

func (p *Pipeline) fail(sm *StateMachine, out Outcome, err error) Outcome {
	logger.Errorf("[synth] 合成失败: %v", err)
	metrics.RecordSynthesis("failed")
	sm.Transition(StateFailed)
	out.State = sm.Current()
	out.Success = false
	out.Err = err
	return out
}

// resolveVoice 返回实际使用的语音名称。
func (p *Pipeline) resolveVoice(req Request) (string, error) {
	if req.VoiceName != "" && p.deps.Catalog.IsKnownVoiceName(req.VoiceName) {
		return req.VoiceName, nil
	}
	if req.VariableVoice && req.FallbackVoiceName != "" && p.deps.Catalog.IsKnownVoiceName(req.FallbackVoiceName) {
		logger.Warnf("[synth] 语音 %q 不可用，改用备用语音 %q", req.VoiceName, req.FallbackVoiceName)
		return req.FallbackVoiceName, nil
	}
	return "", &ValidationError{
		Field:  "voiceName",
		Reason: fmt.Sprintf("语音 %q 未知且没有可用的备用语音", req.VoiceName),
		Err:    ErrUnknownVoice,
	}
}

// synthesize 调用接口并把音频写入临时文件，返回文件路径。
func (p *Pipeline) synthesize(ctx context.Context, req Request, out *Outcome) (string, error) {
	lang := req.LanguageCode
	if lang == "" {
		if loc, ok := p.deps.Catalog.LocaleFor(req.VoiceName); ok {
			lang = loc.ID
		}
	}

	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	content, err := p.deps.Synthesizer.Synthesize(callCtx, req.APIVersion, req.input(),
		gcp.VoiceSelection{LanguageCode: lang, Name: req.VoiceName}, req.audioConfig())
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", &gcp.ProviderError{Op: "synthesize", Message: "没有返回音频内容"}
	}
	audio, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return "", &gcp.ProviderError{Op: "synthesize", Message: "音频内容不是有效的 base64", Cause: err}
	}
	if len(audio) == 0 {
		return "", &gcp.ProviderError{Op: "synthesize", Message: "音频内容为空"}
	}

	// 此时已经计费
	pricing := string(p.deps.Catalog.PricingTier(req.VoiceName))
	out.Usage.BilledUnits = BilledUnits(p.deps.Catalog.VoiceType(req.VoiceName), req.Text)
	out.Usage.PricingBucket = &pricing
	metrics.AddBilledUnits(pricing, out.Usage.BilledUnits)
	if p.deps.Usage != nil {
		if err := p.deps.Usage.Record(ctx, pricing, out.Usage.BilledUnits); err != nil {
			logger.Warnf("[synth] 记录用量失败: %v", err)
		}
	}

	path := filepath.Join(p.tempDir, fmt.Sprintf("tts%s.%s", p.newID(), req.Encoding.FileExtension()))
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		if rerr := p.remove(path); rerr != nil && !os.IsNotExist(rerr) {
			logger.Warnf("[synth] 删除音频文件 %s 失败: %v", path, rerr)
		}
		return "", fmt.Errorf("写入音频文件失败: %w", err)
	}
	logger.Debugf("[synth] 已写入音频文件 %s (%d 字节)", path, len(audio))
	return path, nil
}

// BilledUnits 计算计费单位：Standard 与 Wavenet 按字符计费，其余按 UTF-8 字节计费。
func BilledUnits(voiceType catalog.VoiceType, text string) int {
	if voiceType == catalog.VoiceTypeStandard || voiceType == catalog.VoiceTypeWavenet {
		return utf8.RuneCountInString(text)
	}
	return len(text)
}

// measure 返回播放时长，失败时使用默认时长，不会使流水线失败。
func (p *Pipeline) measure(ctx context.Context, path, format string) time.Duration {
	if p.deps.Prober == nil {
		return p.fallback
	}
	d, err := p.deps.Prober.Duration(ctx, path, format)
	if err != nil {
		logger.Warnf("[synth] 无法确定音频时长，假定为 %v: %v", p.fallback, err)
		return p.fallback
	}
	if d <= 0 || d > MaxPlausibleDuration {
		logger.Warnf("[synth] 测得的音频时长 %v 不可信，假定为 %v", d, p.fallback)
		return p.fallback
	}
	return d
}

// dispatch 按路由结果把播放请求交给 overlay 或本地播放面。
func (p *Pipeline) dispatch(ctx context.Context, req Request, path string, d time.Duration) (err error) {
	decision := playback.Decision{Device: req.Device, Target: playback.TargetLocal}
	if p.deps.Router != nil {
		decision = p.deps.Router.Route(req.Device, req.OverlayInstance)
	}
	defer func() { metrics.RecordDispatch(decision.Target.String(), err) }()

	payload := playback.SoundPayload{
		AudioOutputDevice: decision.Device,
		Filepath:          path,
		Format:            req.Encoding.FileExtension(),
		MaxSoundLength:    d.Seconds(),
		Volume:            req.Volume,
	}

	surface := p.deps.Local
	if decision.Target == playback.TargetOverlay {
		surface = p.deps.Overlay
		if p.deps.Tokens != nil {
			payload.ResourceToken = p.deps.Tokens.Issue(path, d+deleteGrace)
		}
		payload.OverlayInstance = decision.Instance
	}
	if surface == nil {
		return fmt.Errorf("没有可用的 %s 播放面", decision.Target)
	}
	if err := surface.Dispatch(ctx, payload); err != nil {
		return fmt.Errorf("提交播放失败: %w", err)
	}
	logger.Debugf("[synth] 已提交到 %s 播放 (%.1f 秒)", decision.Target, d.Seconds())
	return nil
}

// waitAndDelete 等待播放结束后删除文件。ctx 被取消时改为在剩余时间后异步删除。
func (p *Pipeline) waitAndDelete(ctx context.Context, path string, d time.Duration) {
	start := time.Now()
	select {
	case <-p.after(d):
		p.deleteFile(path, "同步")
	case <-ctx.Done():
		remaining := d - time.Since(start)
		if remaining < 0 {
			remaining = 0
		}
		p.afterFunc(remaining+deleteGrace, func() { p.deleteFile(path, "同步") })
	}
}

func (p *Pipeline) deleteFile(path, mode string) {
	if err := p.remove(path); err != nil {
		logger.Warnf("[synth] %s播放后删除音频文件失败，可稍后手动删除 %s: %v", mode, path, err)
		return
	}
	logger.Debugf("[synth] 已删除%s播放的音频文件 %s", mode, path)
}
