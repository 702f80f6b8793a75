package speech

import (
	"io"
)

// ASRRequest 一次性语音识别请求
type ASRRequest struct {
	SessionID string    `json:"sessionId"`
	AudioData io.Reader `json:"-"`
	Format    string    `json:"format"`   // pcm, wav, mp3, ogg
	Language  string    `json:"language"` // en-US, zh-CN, etc.
}

// StreamConfig describes one live recognition stream.
type StreamConfig struct {
	ConnectID string
	Format    string
	Language  string
	Interim   bool
}
