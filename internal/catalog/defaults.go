package catalog

import (
	_ "embed"
	"encoding/json"
)

//go:embed data/locales.json
var defaultLocalesJSON []byte

//go:embed data/voices.json
var defaultVoicesJSON []byte

// DefaultLocales 返回随程序发布的语言区域列表。
func DefaultLocales() []Locale {
	var locales []Locale
	if err := json.Unmarshal(defaultLocalesJSON, &locales); err != nil {
		panic("catalog: 内置 locales.json 无效: " + err.Error())
	}
	return sanitizeLocales(locales)
}

// DefaultVoices 返回随程序发布的语音列表。
func DefaultVoices() []Voice {
	var voices []Voice
	if err := json.Unmarshal(defaultVoicesJSON, &voices); err != nil {
		panic("catalog: 内置 voices.json 无效: " + err.Error())
	}
	return sanitizeVoices(voices)
}
