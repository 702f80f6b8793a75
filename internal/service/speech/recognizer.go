package speech

import (
	"context"

	speechmodel "github.com/zhouzirui/echosketch/backend/internal/model/speech"
)

// Recognizer opens live recognition streams against a provider.
type Recognizer interface {
	Open(ctx context.Context, cfg speechmodel.StreamConfig) (RecognitionStream, error)
}

// RecognitionStream 是一次识别会话：写入音频块，读取增量结果。
// Results 在流结束时关闭，之后 Err 返回结束原因（正常结束为 nil）。
type RecognitionStream interface {
	Send(chunk []byte, last bool) error
	Results() <-chan speechmodel.Result
	Err() error
	Close() error
}
