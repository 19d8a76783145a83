package catalog

import (
	"encoding/json"
	"strings"
	"time"
)

// 自然采样率的合法开区间（Hz）。
const (
	minSampleRateHertz = 5512
	maxSampleRateHertz = 768000
)

// Gender 语音的 SSML 性别。
type Gender string

const (
	GenderFemale      Gender = "FEMALE"
	GenderMale        Gender = "MALE"
	GenderUnspecified Gender = "SSML_VOICE_GENDER_UNSPECIFIED"
)

// ParseGender 解析性别字符串，大小写不敏感；NEUTRAL 及无法识别的值归一为 Unspecified。
func ParseGender(s string) Gender {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FEMALE":
		return GenderFemale
	case "MALE":
		return GenderMale
	default:
		return GenderUnspecified
	}
}

// UnmarshalJSON 在读取时完成 NEUTRAL 归一。
func (g *Gender) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*g = ParseGender(s)
	return nil
}

// Locale 语言区域，如 {ID: "en-US", Description: "English (United States)"}。
type Locale struct {
	ID          string `json:"id"`
	Description string `json:"desc"`
}

// UnmarshalJSON 兼容旧数据文件中以 "name" 作为描述字段的写法。
func (l *Locale) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID   string `json:"id"`
		Desc string `json:"desc"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	l.ID = raw.ID
	l.Description = raw.Desc
	if l.Description == "" {
		l.Description = raw.Name
	}
	return nil
}

func (l Locale) valid() bool {
	if l.ID == "" || l.Description == "" {
		return false
	}
	return len(strings.Split(l.ID, "-")) <= 2
}

// Voice 提供方返回的语音描述，与 voices 接口的 JSON 结构一致。
type Voice struct {
	LanguageCodes          []string `json:"languageCodes"`
	Name                   string   `json:"name"`
	Gender                 Gender   `json:"ssmlGender"`
	NaturalSampleRateHertz int      `json:"naturalSampleRateHertz"`
}

func (v Voice) valid() bool {
	if v.Name == "" || len(v.LanguageCodes) == 0 {
		return false
	}
	for _, code := range v.LanguageCodes {
		if code == "" {
			return false
		}
	}
	return v.NaturalSampleRateHertz > minSampleRateHertz && v.NaturalSampleRateHertz < maxSampleRateHertz
}

func (v Voice) clone() Voice {
	v.LanguageCodes = append([]string(nil), v.LanguageCodes...)
	return v
}

// ExtendedVoice 是 Voice、Locale 与分类规则联合后的只读视图，不会被持久化。
type ExtendedVoice struct {
	Name         string      `json:"name"`
	Gender       Gender      `json:"gender"`
	LanguageCode string      `json:"languageCode"`
	LanguageName string      `json:"languageName"`
	PricingTier  PricingTier `json:"pricing"`
	VoiceType    VoiceType   `json:"technology"`
	SampleRate   int         `json:"sampleRate"`
}

// VoiceFilter 缩小 ExtendedVoices 的结果集。零值表示不过滤。
type VoiceFilter struct {
	Name         string // 精确匹配
	LanguageCode string // 语言代码前缀，大小写不敏感
	Gender       Gender
	PricingTier  PricingTier
	VoiceType    VoiceType
}

// VoiceDiff 是 ReplaceVoices 的结果，名称均已排序。
type VoiceDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// LastChecks 记录最近一次插件更新检查与语音列表刷新的时间。
type LastChecks struct {
	Plugin *time.Time `json:"plugin,omitempty"`
	Voices *time.Time `json:"voices,omitempty"`
}

func (c *LastChecks) empty() bool {
	return c == nil || (c.Plugin == nil && c.Voices == nil)
}

// document 是数据文件的磁盘格式。
type document struct {
	LastChecks *LastChecks `json:"lastChecks,omitempty"`
	Locales    []Locale    `json:"locales"`
	Voices     []Voice     `json:"voices"`
}
