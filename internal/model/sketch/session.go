package sketch

import (
	"strings"
	"time"
)

// ProvisionalPrefix 标记尚未完成的临时会话 ID。
const ProvisionalPrefix = "temp-"

// Session is one finalized voice-to-image creation.
type Session struct {
	ID                 string    `json:"id"`
	OriginalTranscript string    `json:"originalTranscript"`
	EnhancedPrompt     string    `json:"enhancedPrompt"`
	ImageURL           string    `json:"imageUrl"`
	CreatedAt          time.Time `json:"createdAt"`
}

// IsProvisional reports whether the session is the in-flight placeholder.
func (s Session) IsProvisional() bool {
	return strings.HasPrefix(s.ID, ProvisionalPrefix)
}

// Complete 判断会话是否可以持久化：正式 ID 且字段齐全。
func (s Session) Complete() bool {
	if s.ID == "" || s.IsProvisional() {
		return false
	}
	return s.OriginalTranscript != "" && s.EnhancedPrompt != "" && s.ImageURL != "" && !s.CreatedAt.IsZero()
}
