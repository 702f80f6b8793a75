package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/echosketch/backend/internal/config"
	speechmodel "github.com/zhouzirui/echosketch/backend/internal/model/speech"
)

const (
	// 16kHz, 16bit, mono, 200ms = 6400 bytes
	fileChunkSize     = 6400
	fileChunkInterval = 200 * time.Millisecond
)

// ErrNoSpeech is returned by TranscribeFile when the audio contained no speech.
var ErrNoSpeech = errors.New("no speech detected")

// Service 语音服务：持有识别端并创建采集会话。
type Service struct {
	cfg           config.SpeechConfig
	recognizer    Recognizer
	chunkInterval time.Duration
	captures      *CaptureRegistry
}

// NewService 创建语音服务；凭证缺失时识别能力不可用。
func NewService(cfg config.SpeechConfig) *Service {
	var recognizer Recognizer
	if _, err := handshakeHeader(cfg, "probe"); err == nil {
		recognizer = NewVolcengineRecognizer(cfg)
	} else {
		log.Printf("[speech] 未配置语音识别凭证，语音输入不可用")
	}
	return NewServiceWithRecognizer(cfg, recognizer)
}

// NewServiceWithRecognizer wires an explicit recognizer (nil disables speech input).
func NewServiceWithRecognizer(cfg config.SpeechConfig, recognizer Recognizer) *Service {
	return &Service{
		cfg:           cfg,
		recognizer:    recognizer,
		chunkInterval: fileChunkInterval,
		captures:      NewCaptureRegistry(),
	}
}

// Enabled reports whether speech recognition is available.
func (s *Service) Enabled() bool {
	return s.recognizer != nil
}

// Captures returns the registry of live capture sessions.
func (s *Service) Captures() *CaptureRegistry {
	return s.captures
}

// NewCapture 创建一个实时采集适配器，开启中间结果。
func (s *Service) NewCapture(format, language string) *Capture {
	if language == "" {
		language = s.cfg.ASRLanguage
	}
	return NewCapture(s.recognizer, speechmodel.StreamConfig{
		ConnectID: uuid.NewString(),
		Format:    format,
		Language:  language,
		Interim:   true,
	})
}

// TranscribeFile 一次性识别整段音频。
func (s *Service) TranscribeFile(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	if s.recognizer == nil {
		return nil, ErrUnsupported
	}
	if req == nil || req.AudioData == nil {
		return nil, fmt.Errorf("no audio data to send")
	}

	audio, err := io.ReadAll(req.AudioData)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("no audio data to send")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	language := req.Language
	if language == "" {
		language = s.cfg.ASRLanguage
	}

	started := time.Now()
	stream, err := s.recognizer.Open(ctx, speechmodel.StreamConfig{
		ConnectID: sessionID,
		Format:    req.Format,
		Language:  language,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- s.sendChunks(ctx, stream, audio)
	}()

	var text string
	for {
		select {
		case err := <-sendErr:
			if err != nil {
				return nil, fmt.Errorf("failed to send audio data: %w", err)
			}
			sendErr = nil
		case result, ok := <-stream.Results():
			if !ok {
				if err := stream.Err(); err != nil {
					return nil, err
				}
				if text == "" {
					return nil, ErrNoSpeech
				}
				return &speechmodel.ASRResponse{
					SessionID:  sessionID,
					Text:       text,
					Confidence: estimateConfidence(text),
					Duration:   time.Since(started).Milliseconds(),
					RequestID:  sessionID,
					CreatedAt:  time.Now(),
				}, nil
			}
			if result.Final {
				text = result.Text
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// sendChunks 按实时节奏分包发送音频，最后一包标记结束。
func (s *Service) sendChunks(ctx context.Context, stream RecognitionStream, audio []byte) error {
	for i := 0; i < len(audio); i += fileChunkSize {
		end := i + fileChunkSize
		if end > len(audio) {
			end = len(audio)
		}
		last := end >= len(audio)

		if err := stream.Send(audio[i:end], last); err != nil {
			return err
		}
		if last || s.chunkInterval <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.chunkInterval):
		}
	}
	return nil
}

func estimateConfidence(text string) float64 {
	if text == "" {
		return 0
	}
	return 0.95
}
