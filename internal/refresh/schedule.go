package refresh

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/iabetor/gcptts/internal/gcp"
	"github.com/iabetor/gcptts/internal/logger"
)

// Frequency 自动检查语音更新的频率。
type Frequency string

const (
	Never   Frequency = "Never"
	OnStart Frequency = "OnStart"
	Daily   Frequency = "Daily"
	Weekly  Frequency = "Weekly"
	Monthly Frequency = "Monthly"
)

// ParseFrequency 解析频率名称（大小写不敏感）。
func ParseFrequency(s string) (Frequency, error) {
	for _, f := range []Frequency{Never, OnStart, Daily, Weekly, Monthly} {
		if strings.EqualFold(string(f), strings.TrimSpace(s)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("[refresh] 未知的检查频率 %q", s)
}

// Expr 返回周期性频率对应的 cron 表达式，非周期频率返回空串。
func (f Frequency) Expr() string {
	switch f {
	case Daily:
		return "@daily"
	case Weekly:
		return "@weekly"
	case Monthly:
		return "@monthly"
	}
	return ""
}

// Period 返回判断上次检查是否过期所用的周期。
func (f Frequency) Period() time.Duration {
	switch f {
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	case Monthly:
		return 30 * 24 * time.Hour
	}
	return 0
}

// Scheduler 按频率自动刷新语音目录。
type Scheduler struct {
	refresher *Refresher
	store     VoiceStore
	freq      Frequency
	version   gcp.APIVersion
	lang      string

	now      func() time.Time
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	lastSeen Result
}

// NewScheduler 创建调度器。
func NewScheduler(r *Refresher, freq Frequency, version gcp.APIVersion, lang string) *Scheduler {
	return &Scheduler{refresher: r, store: r.store, freq: freq, version: version, lang: lang, now: time.Now}
}

// Due 报告启动时是否需要立即刷新。
func (s *Scheduler) Due(now time.Time) bool {
	switch s.freq {
	case OnStart:
		return true
	case Daily, Weekly, Monthly:
		last, ok := s.store.LastVoiceCheck()
		return !ok || now.Sub(last) >= s.freq.Period()
	}
	return false
}

// NextRun 返回 after 之后的下一次计划刷新时间。
func (s *Scheduler) NextRun(after time.Time) (time.Time, bool) {
	expr := s.freq.Expr()
	if expr == "" {
		return time.Time{}, false
	}
	next, err := gronx.NextTickAfter(expr, after, false)
	if err != nil {
		logger.Errorf("[refresh] 计算下一次刷新时间失败: %v", err)
		return time.Time{}, false
	}
	return next, true
}

// Last 返回调度器最近一次刷新的结果。
func (s *Scheduler) Last() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Start 在后台运行调度循环，Never 时什么都不做。
func (s *Scheduler) Start(ctx context.Context) {
	if s.freq == Never || s.freq == "" {
		logger.Infof("[refresh] 已关闭自动检查语音更新")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

func (s *Scheduler) loop(ctx context.Context) {
	if s.Due(s.now()) {
		s.run(ctx)
	}
	for {
		next, ok := s.NextRun(s.now())
		if !ok {
			return
		}
		logger.Debugf("[refresh] 下一次检查语音更新: %s", next.Format(time.RFC3339))
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.run(ctx)
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	res := s.refresher.Refresh(ctx, s.version, s.lang)
	s.mu.Lock()
	s.lastSeen = res
	s.mu.Unlock()
}

// Stop 停止调度循环并等待正在进行的刷新结束。
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
