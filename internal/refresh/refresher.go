// Package refresh 从接口拉取语音列表并替换目录，支持按计划自动执行。
package refresh

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/iabetor/gcptts/internal/catalog"
	"github.com/iabetor/gcptts/internal/gcp"
	"github.com/iabetor/gcptts/internal/logger"
	"github.com/iabetor/gcptts/internal/metrics"
	"github.com/iabetor/gcptts/internal/synth"
)

// refreshTimeout 共享刷新的最长时间，不随任何单个调用方取消。
const refreshTimeout = 2 * time.Minute

// NoVoicesMessage 接口没有返回任何语音时的提示。
const NoVoicesMessage = "没有收到任何语音：语言代码无效或凭据未连接"

// VoiceLister 获取语音列表，由 *gcp.Client 实现。
type VoiceLister interface {
	ListVoices(ctx context.Context, version gcp.APIVersion, languageCode string) ([]catalog.Voice, error)
}

// VoiceStore 保存语音列表，由 *catalog.Store 实现。
type VoiceStore interface {
	ReplaceVoices(voices []catalog.Voice, langPrefix string) catalog.VoiceDiff
	LastVoiceCheck() (time.Time, bool)
	SetLastVoiceCheck(t time.Time)
}

// Result 一次刷新的结果。
type Result struct {
	Added        []string `json:"added"`
	Removed      []string `json:"removed"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	Success      bool     `json:"success"`
}

// Refresher 刷新语音目录。相同版本和语言的并发刷新只请求一次接口。
type Refresher struct {
	lister VoiceLister
	store  VoiceStore
	group  singleflight.Group
	now    func() time.Time
}

// NewRefresher 创建刷新器。
func NewRefresher(lister VoiceLister, store VoiceStore) *Refresher {
	return &Refresher{lister: lister, store: store, now: time.Now}
}

// Refresh 拉取语音并替换目录。langCode 为空或 "all" 时刷新全部语言。
// 拉取失败时 Success 为 false；接口返回空列表时 Success 为 true 并附带提示。
func (r *Refresher) Refresh(ctx context.Context, version gcp.APIVersion, langCode string) Result {
	if strings.EqualFold(langCode, "all") {
		langCode = ""
	}
	if version == "" {
		version = gcp.V1
	}
	key := string(version) + "|" + langCode

	ch := r.group.DoChan(key, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return r.refresh(shared, version, langCode), nil
	})

	select {
	case <-ctx.Done():
		logger.Warnf("[refresh] 等待语音刷新时调用方已取消: %v", ctx.Err())
		return Result{Added: []string{}, Removed: []string{}, ErrorMessage: fmt.Sprintf("刷新已取消: %v", ctx.Err())}
	case out := <-ch:
		res := out.Val.(Result)
		if out.Shared {
			res.Added = append([]string(nil), res.Added...)
			res.Removed = append([]string(nil), res.Removed...)
		}
		return res
	}
}

func (r *Refresher) refresh(ctx context.Context, version gcp.APIVersion, langCode string) Result {
	scope := "全部语言"
	if langCode != "" {
		scope = fmt.Sprintf("语言 %q", langCode)
	}
	res := Result{Added: []string{}, Removed: []string{}}

	voices, err := r.lister.ListVoices(ctx, version, langCode)
	metrics.RecordVoiceRefresh(err)
	if err != nil {
		res.ErrorMessage = fmt.Sprintf("从 %s 接口获取语音列表失败: %v", version, err)
		logger.Errorf("[refresh] 获取%s的语音列表失败: %v", scope, err)
		return res
	}

	res.Success = true
	if len(voices) == 0 {
		res.ErrorMessage = NoVoicesMessage
		logger.Warnf("[refresh] %s 接口没有返回%s的语音", version, scope)
		return res
	}

	diff := r.store.ReplaceVoices(voices, langCode)
	r.store.SetLastVoiceCheck(r.now())
	if diff.Added != nil {
		res.Added = diff.Added
	}
	if diff.Removed != nil {
		res.Removed = diff.Removed
	}
	logger.Infof("[refresh] 从 %s 接口获取到%s的 %d 个语音，新增 %d 个，移除 %d 个",
		version, scope, len(voices), len(res.Added), len(res.Removed))
	return res
}

// VoiceChanges 效果输出中的语音变化。
type VoiceChanges struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// EffectOutputs 更新语音效果的输出。
type EffectOutputs struct {
	Voices       VoiceChanges `json:"voices"`
	ErrorMessage *string      `json:"errorMessage"`
}

// EffectResult 返回给宿主的更新语音效果结果。
type EffectResult struct {
	Success   bool             `json:"success"`
	Execution *synth.Execution `json:"execution,omitempty"`
	Outputs   EffectOutputs    `json:"outputs"`
}

// Effect 把刷新结果转换为效果结果。
func (r Result) Effect(stop synth.StopOnError) EffectResult {
	out := EffectResult{
		Success: r.Success,
		Outputs: EffectOutputs{Voices: VoiceChanges{Added: r.Added, Removed: r.Removed}},
	}
	if out.Outputs.Voices.Added == nil {
		out.Outputs.Voices.Added = []string{}
	}
	if out.Outputs.Voices.Removed == nil {
		out.Outputs.Voices.Removed = []string{}
	}
	if r.ErrorMessage != "" {
		msg := r.ErrorMessage
		out.Outputs.ErrorMessage = &msg
	}
	if !r.Success {
		exec := stop.Execution()
		out.Execution = &exec
	}
	return out
}
