package image

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

const (
	placeholderBackground = "#1F2937"
	placeholderText       = "#F3F4F6"
	placeholderAccent     = "#3B82F6"
)

// Placeholder 生成确定性的占位 SVG，嵌入提示词前十个单词。
func Placeholder(prompt string) string {
	words := strings.Split(prompt, " ")
	if len(words) > 10 {
		words = words[:10]
	}

	var escaped bytes.Buffer
	_ = xml.EscapeText(&escaped, []byte(strings.Join(words, " ")))

	svg := fmt.Sprintf(`<svg width="512" height="512" viewBox="0 0 512 512" xmlns="http://www.w3.org/2000/svg">
  <rect width="512" height="512" fill="%[1]s" />
  <rect x="20" y="20" width="472" height="472" fill="none" stroke="%[3]s" stroke-width="4" rx="15" />
  <text x="50%%" y="45%%" dominant-baseline="middle" text-anchor="middle" font-family="sans-serif" font-size="24" fill="%[2]s" font-weight="bold">ECHOSKETCH</text>
  <text x="50%%" y="55%%" dominant-baseline="middle" text-anchor="middle" font-family="sans-serif" font-size="16" fill="%[2]s">
    <tspan x="50%%" dy="1.2em">(Placeholder Image)</tspan>
    <tspan x="50%%" dy="1.5em">%[4]s...</tspan>
  </text>
</svg>`, placeholderBackground, placeholderText, placeholderAccent, escaped.String())

	return EncodeDataURI("image/svg+xml", []byte(svg))
}
