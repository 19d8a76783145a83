// Package ssml 提供把普通文本安全嵌入 SSML 的工具。
package ssml

import "strings"

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"'", "&apos;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// Encode 转义 & ' < > "，结果可直接放进 SSML 文本或属性值。
func Encode(text string) string {
	return escaper.Replace(text)
}

// Wrap 把已转义的内容包进 <speak> 根元素，已有根元素或 XML 声明时原样返回。
func Wrap(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "<speak") || strings.HasPrefix(trimmed, "<?xml") {
		return content
	}
	return "<speak>" + content + "</speak>"
}
