package catalog

import (
	"sort"
	"strings"
)

// PricingTier 语音的计费档位。
type PricingTier string

const (
	PricingJourney  PricingTier = "Journey"
	PricingNeural2  PricingTier = "Neural2"
	PricingPolyglot PricingTier = "Polyglot"
	PricingStandard PricingTier = "Standard"
	PricingStudio   PricingTier = "Studio"
	PricingWavenet  PricingTier = "Wavenet"
	PricingUnknown  PricingTier = "Unknown"
)

// VoiceType 语音的合成技术类型。
type VoiceType string

const (
	VoiceTypeCasual   VoiceType = "Casual"
	VoiceTypeJourney  VoiceType = "Journey"
	VoiceTypeNeural2  VoiceType = "Neural2"
	VoiceTypeNews     VoiceType = "News"
	VoiceTypePolyglot VoiceType = "Polyglot"
	VoiceTypeStandard VoiceType = "Standard"
	VoiceTypeStudio   VoiceType = "Studio"
	VoiceTypeWavenet  VoiceType = "Wavenet"
	VoiceTypeUnknown  VoiceType = "Unknown"
)

var knownPricingTiers = []PricingTier{
	PricingJourney, PricingNeural2, PricingPolyglot, PricingStandard,
	PricingStudio, PricingWavenet, PricingUnknown,
}

// ParsePricingTier 解析计费档位名称（大小写不敏感）。
func ParsePricingTier(s string) (PricingTier, bool) {
	for _, t := range knownPricingTiers {
		if strings.EqualFold(string(t), s) {
			return t, true
		}
	}
	return PricingUnknown, false
}

// ParseVoiceType 解析技术类型名称（大小写不敏感）。
func ParseVoiceType(s string) (VoiceType, bool) {
	for _, m := range defaultMarkers {
		if strings.EqualFold(string(m.kind), s) {
			return m.kind, true
		}
	}
	return VoiceTypeUnknown, strings.EqualFold(string(VoiceTypeUnknown), s)
}

// marker 是语音名称中的一个标记子串。
type marker struct {
	token string
	tier  PricingTier
	kind  VoiceType
}

// 顺序即优先级：先命中者生效。
var defaultMarkers = []marker{
	{"Casual", PricingStudio, VoiceTypeCasual},
	{"Journey", PricingJourney, VoiceTypeJourney},
	{"Neural2", PricingNeural2, VoiceTypeNeural2},
	{"News", PricingStudio, VoiceTypeNews},
	{"Polyglot", PricingPolyglot, VoiceTypePolyglot},
	{"Standard", PricingStandard, VoiceTypeStandard},
	{"Studio", PricingStudio, VoiceTypeStudio},
	{"Wavenet", PricingWavenet, VoiceTypeWavenet},
}

// Rules 按语音名称推导计费档位与技术类型。
// 匹配区分大小写，调用方不应预先转换大小写。零值等价于 DefaultRules。
type Rules struct {
	markers []marker
}

// DefaultRules 返回内置的分类规则。
func DefaultRules() Rules {
	return Rules{markers: defaultMarkers}
}

func (r Rules) list() []marker {
	if r.markers == nil {
		return defaultMarkers
	}
	return r.markers
}

// WithPricing 返回把 token 标记映射到 tier 的新规则，匹配顺序不变。
// 未知的 token 会被忽略。
func (r Rules) WithPricing(token string, tier PricingTier) Rules {
	src := r.list()
	out := make([]marker, len(src))
	copy(out, src)
	for i := range out {
		if out[i].token == token {
			out[i].tier = tier
		}
	}
	return Rules{markers: out}
}

// WithPricingOverrides 批量应用 token → 档位名称的覆盖，返回无法识别的条目。
func (r Rules) WithPricingOverrides(overrides map[string]string) (Rules, []string) {
	var rejected []string
	for token, name := range overrides {
		tier, ok := ParsePricingTier(name)
		if !ok || !r.hasToken(token) {
			rejected = append(rejected, token)
			continue
		}
		r = r.WithPricing(token, tier)
	}
	sort.Strings(rejected)
	return r, rejected
}

func (r Rules) hasToken(token string) bool {
	for _, m := range r.list() {
		if m.token == token {
			return true
		}
	}
	return false
}

// PricingTier 返回语音名称对应的计费档位，无匹配时为 Unknown。
func (r Rules) PricingTier(voiceName string) PricingTier {
	for _, m := range r.list() {
		if strings.Contains(voiceName, m.token) {
			return m.tier
		}
	}
	return PricingUnknown
}

// VoiceType 返回语音名称对应的技术类型，无匹配时为 Unknown。
func (r Rules) VoiceType(voiceName string) VoiceType {
	for _, m := range r.list() {
		if strings.Contains(voiceName, m.token) {
			return m.kind
		}
	}
	return VoiceTypeUnknown
}

// PricingTierOf 使用内置规则分类。
func PricingTierOf(voiceName string) PricingTier { return DefaultRules().PricingTier(voiceName) }

// VoiceTypeOf 使用内置规则分类。
func VoiceTypeOf(voiceName string) VoiceType { return DefaultRules().VoiceType(voiceName) }
