package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iabetor/gcptts/internal/logger"
	"github.com/iabetor/gcptts/internal/metrics"
)

const (
	defaultFileName   = "gttsdata.json"
	defaultWriteDelay = 10 * time.Second
	defaultRetryDelay = 30 * time.Second
)

// StoreConfig 目录存储配置。
type StoreConfig struct {
	DataDir    string
	FileName   string        // 默认 gttsdata.json
	WriteDelay time.Duration // 修改后最迟多久写盘，默认 10s
	RetryDelay time.Duration // 写盘失败后的重试间隔，默认 30s
	Rules      Rules
}

// Store 持有语言区域与语音列表，修改后延迟合并写盘。
type Store struct {
	mu       sync.RWMutex
	filePath string
	locales  []Locale
	voices   []Voice
	checks   LastChecks
	rules    Rules

	writeDelay time.Duration
	retryDelay time.Duration
	sched      *writeScheduler

	writeMu   sync.Mutex
	writeFile func(path string, data []byte) error
}

// NewStore 创建目录存储并立即加载数据文件。
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("[catalog] 数据目录不能为空")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("[catalog] 创建数据目录失败: %w", err)
	}
	if cfg.FileName == "" {
		cfg.FileName = defaultFileName
	}
	if cfg.WriteDelay == 0 {
		cfg.WriteDelay = defaultWriteDelay
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	s := &Store{
		filePath:   filepath.Join(cfg.DataDir, cfg.FileName),
		rules:      cfg.Rules,
		writeDelay: cfg.WriteDelay,
		retryDelay: cfg.RetryDelay,
		writeFile:  atomicWriteFile,
	}
	s.sched = newWriteScheduler(s.flushScheduled)
	s.Load()
	return s, nil
}

// Path 返回数据文件路径。
func (s *Store) Path() string { return s.filePath }

// Rules 返回当前使用的分类规则。
func (s *Store) Rules() Rules { return s.rules }

// Load 从磁盘重新加载数据。文件缺失或损坏时使用内置数据并安排一次写盘，从不返回错误。
func (s *Store) Load() {
	doc, err := readDocument(s.filePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("[catalog] 读取数据文件失败（将使用内置数据）: %v", err)
	}

	seeded := err != nil
	locales := sanitizeLocales(doc.Locales)
	if len(locales) == 0 {
		locales = DefaultLocales()
		seeded = true
	}
	voices := sanitizeVoices(doc.Voices)
	if len(voices) == 0 {
		voices = DefaultVoices()
		seeded = true
	}

	s.mu.Lock()
	s.locales = locales
	s.voices = voices
	s.checks = LastChecks{}
	if doc.LastChecks != nil {
		s.checks = *doc.LastChecks
	}
	s.mu.Unlock()

	logger.Infof("[catalog] 已加载 %d 个语言区域、%d 个语音", len(locales), len(voices))
	if seeded {
		s.sched.Schedule(s.writeDelay)
	}
}

// readDocument 逐条解析数据文件，单条损坏只丢弃该条。
func readDocument(path string) (document, error) {
	var doc document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}

	var raw struct {
		LastChecks *LastChecks       `json:"lastChecks"`
		Locales    []json.RawMessage `json:"locales"`
		Voices     []json.RawMessage `json:"voices"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return doc, fmt.Errorf("解析 %s 失败: %w", filepath.Base(path), err)
	}

	doc.LastChecks = raw.LastChecks
	for _, item := range raw.Locales {
		var l Locale
		if err := json.Unmarshal(item, &l); err != nil {
			logger.Debugf("[catalog] 跳过无效的语言区域: %s", item)
			continue
		}
		doc.Locales = append(doc.Locales, l)
	}
	for _, item := range raw.Voices {
		var v Voice
		if err := json.Unmarshal(item, &v); err != nil {
			logger.Debugf("[catalog] 跳过无效的语音: %s", item)
			continue
		}
		doc.Voices = append(doc.Voices, v)
	}
	return doc, nil
}

// sanitizeLocales 过滤无效条目，按 ID 去重（后者优先）并排序。
func sanitizeLocales(in []Locale) []Locale {
	byID := make(map[string]Locale, len(in))
	for _, l := range in {
		l.ID = strings.TrimSpace(l.ID)
		l.Description = strings.TrimSpace(l.Description)
		if l.valid() {
			byID[l.ID] = l
		}
	}
	out := make([]Locale, 0, len(byID))
	for _, l := range byID {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// sanitizeVoices 过滤无效条目，按名称去重（后者优先）并排序。
func sanitizeVoices(in []Voice) []Voice {
	byName := make(map[string]Voice, len(in))
	for _, v := range in {
		if v.Gender == "" {
			v.Gender = GenderUnspecified
		}
		if v.valid() {
			byName[v.Name] = v.clone()
		}
	}
	out := make([]Voice, 0, len(byName))
	for _, v := range byName {
		out = append(out, v)
	}
	sortVoices(out)
	return out
}

func sortVoices(v []Voice) {
	sort.Slice(v, func(i, j int) bool { return v[i].Name < v[j].Name })
}

// Locales 返回语言区域列表的副本（包含尚未写盘的修改）。
func (s *Store) Locales() []Locale {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Locale, len(s.locales))
	copy(out, s.locales)
	return out
}

// Voices 返回语音列表的副本（包含尚未写盘的修改）。
func (s *Store) Voices() []Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Voice, len(s.voices))
	for i, v := range s.voices {
		out[i] = v.clone()
	}
	return out
}

// LocaleFor 返回 ID 是语音名称前缀（大小写不敏感）的语言区域。
// 多个匹配时取 ID 最短者，长度相同按 ID 排序。
func (s *Store) LocaleFor(voiceName string) (Locale, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localeForLocked(voiceName)
}

func (s *Store) localeForLocked(voiceName string) (Locale, bool) {
	lname := strings.ToLower(voiceName)
	var best Locale
	found := false
	for _, l := range s.locales {
		if !strings.HasPrefix(lname, strings.ToLower(l.ID)) {
			continue
		}
		if !found || len(l.ID) < len(best.ID) || (len(l.ID) == len(best.ID) && l.ID < best.ID) {
			best = l
			found = true
		}
	}
	return best, found
}

// VoiceFor 按名称精确查找语音。
func (s *Store) VoiceFor(name string) (Voice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.voices {
		if v.Name == name {
			return v.clone(), true
		}
	}
	return Voice{}, false
}

// IsKnownVoiceName 判断名称是否为目录中的语音。空名称或包含 "$"（未替换的变量）时返回 false。
func (s *Store) IsKnownVoiceName(name string) bool {
	if name == "" || strings.Contains(name, "$") {
		return false
	}
	_, ok := s.VoiceFor(name)
	return ok
}

// PricingTier 使用存储的分类规则。
func (s *Store) PricingTier(voiceName string) PricingTier { return s.rules.PricingTier(voiceName) }

// VoiceType 使用存储的分类规则。
func (s *Store) VoiceType(voiceName string) VoiceType { return s.rules.VoiceType(voiceName) }

// ExtendedVoices 返回与语言区域、分类联合后的语音信息。
// 名称、语言、性别过滤在联合前完成；找不到语言区域的语音被丢弃。
func (s *Store) ExtendedVoices(filter *VoiceFilter) []ExtendedVoice {
	var f VoiceFilter
	if filter != nil {
		f = *filter
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ExtendedVoice, 0)
	for _, v := range s.voices {
		if f.Name != "" && v.Name != f.Name {
			continue
		}
		if f.LanguageCode != "" && !matchesLanguage(v.LanguageCodes, f.LanguageCode) {
			continue
		}
		if f.Gender != "" && v.Gender != f.Gender {
			continue
		}

		loc, ok := s.localeForLocked(v.Name)
		if !ok {
			continue
		}
		ev := ExtendedVoice{
			Name:         v.Name,
			Gender:       v.Gender,
			LanguageCode: loc.ID,
			LanguageName: loc.Description,
			PricingTier:  s.rules.PricingTier(v.Name),
			VoiceType:    s.rules.VoiceType(v.Name),
			SampleRate:   v.NaturalSampleRateHertz,
		}
		if f.PricingTier != "" && ev.PricingTier != f.PricingTier {
			continue
		}
		if f.VoiceType != "" && ev.VoiceType != f.VoiceType {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// isAllScope 判断语言前缀是否代表“全部”。
func isAllScope(prefix string) bool {
	return prefix == "" || strings.EqualFold(prefix, "all")
}

func matchesLanguage(codes []string, prefix string) bool {
	lp := strings.ToLower(prefix)
	for _, c := range codes {
		if strings.HasPrefix(strings.ToLower(c), lp) {
			return true
		}
	}
	return false
}

// ReplaceLocales 用 newLocales 替换 ID 以 langPrefix 开头的语言区域；
// langPrefix 为空或 "all" 时替换全部。
func (s *Store) ReplaceLocales(newLocales []Locale, langPrefix string) {
	incoming := sanitizeLocales(newLocales)

	s.mu.Lock()
	kept := make([]Locale, 0, len(s.locales)+len(incoming))
	if !isAllScope(langPrefix) {
		lp := strings.ToLower(langPrefix)
		for _, l := range s.locales {
			if !strings.HasPrefix(strings.ToLower(l.ID), lp) {
				kept = append(kept, l)
			}
		}
	}
	s.locales = sanitizeLocales(append(kept, incoming...))
	count := len(s.locales)
	s.mu.Unlock()

	logger.Infof("[catalog] 语言区域已替换（范围 %q），现有 %d 个", langPrefix, count)
	s.sched.Schedule(s.writeDelay)
}

// ReplaceVoices 用 newVoices 替换语言代码匹配 langPrefix 的语音；范围外的语音保持不变。
// 与新语音同名的旧语音也会被替换。返回的差异在修改前计算。
func (s *Store) ReplaceVoices(newVoices []Voice, langPrefix string) VoiceDiff {
	incoming := sanitizeVoices(newVoices)
	incomingNames := make(map[string]struct{}, len(incoming))
	for _, v := range incoming {
		incomingNames[v.Name] = struct{}{}
	}

	s.mu.Lock()
	all := isAllScope(langPrefix)
	toRemove := make(map[string]struct{})
	kept := make([]Voice, 0, len(s.voices))
	for _, v := range s.voices {
		_, replaced := incomingNames[v.Name]
		if all || replaced || matchesLanguage(v.LanguageCodes, langPrefix) {
			toRemove[v.Name] = struct{}{}
			continue
		}
		kept = append(kept, v)
	}

	diff := VoiceDiff{Added: []string{}, Removed: []string{}}
	for name := range incomingNames {
		if _, ok := toRemove[name]; !ok {
			diff.Added = append(diff.Added, name)
		}
	}
	for name := range toRemove {
		if _, ok := incomingNames[name]; !ok {
			diff.Removed = append(diff.Removed, name)
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)

	merged := append(kept, incoming...)
	sortVoices(merged)
	s.voices = merged
	count := len(merged)
	s.mu.Unlock()

	logger.Infof("[catalog] 语音已替换（范围 %q）：新增 %d，移除 %d，现有 %d", langPrefix, len(diff.Added), len(diff.Removed), count)
	s.sched.Schedule(s.writeDelay)
	return diff
}

// LastVoiceCheck 返回最近一次刷新语音列表的时间。
func (s *Store) LastVoiceCheck() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.checks.Voices == nil {
		return time.Time{}, false
	}
	return *s.checks.Voices, true
}

// SetLastVoiceCheck 更新语音列表刷新时间，零值表示清除。
func (s *Store) SetLastVoiceCheck(t time.Time) {
	s.mu.Lock()
	s.checks.Voices = timePtr(t)
	s.mu.Unlock()
	s.sched.Schedule(s.writeDelay)
}

// LastPluginCheck 返回最近一次检查插件更新的时间。
func (s *Store) LastPluginCheck() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.checks.Plugin == nil {
		return time.Time{}, false
	}
	return *s.checks.Plugin, true
}

// SetLastPluginCheck 更新插件更新检查时间，零值表示清除。
func (s *Store) SetLastPluginCheck(t time.Time) {
	s.mu.Lock()
	s.checks.Plugin = timePtr(t)
	s.mu.Unlock()
	s.sched.Schedule(s.writeDelay)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

// Flush 立即同步写盘，并取消等待中的延迟写盘。
func (s *Store) Flush() error {
	s.sched.Cancel()
	return s.write()
}

// Close 写出尚未落盘的修改并停止调度。
func (s *Store) Close() error {
	if s.sched.Stop() {
		return s.write()
	}
	return nil
}

// flushScheduled 由调度器触发；失败时安排重试。
func (s *Store) flushScheduled() {
	if err := s.write(); err != nil {
		logger.Warnf("[catalog] 写入数据文件失败，%s 后重试: %v", s.retryDelay, err)
		s.sched.Schedule(s.retryDelay)
	}
}

func (s *Store) write() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	doc := document{Locales: s.locales, Voices: s.voices}
	if !s.checks.empty() {
		checks := s.checks
		doc.LastChecks = &checks
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("序列化目录失败: %w", err)
	}

	err = s.writeFile(s.filePath, data)
	metrics.RecordCatalogFlush(err)
	if err != nil {
		return err
	}
	logger.Debugf("[catalog] 已写入 %s (%d 字节)", s.filePath, len(data))
	return nil
}

// atomicWriteFile 先写临时文件再重命名，避免读到半个文件。
func atomicWriteFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("重命名数据文件失败: %w", err)
	}
	return nil
}
