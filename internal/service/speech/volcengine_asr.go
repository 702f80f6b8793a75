package speech

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/echosketch/backend/internal/config"
	speechmodel "github.com/zhouzirui/echosketch/backend/internal/model/speech"
)

const (
	defaultASRURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"
	successCode   = 20000000
)

// ErrStreamClosed is returned when writing to a finished stream.
var ErrStreamClosed = errors.New("recognition stream closed")

// VolcengineRecognizer 火山引擎大模型流式识别客户端
type VolcengineRecognizer struct {
	cfg    config.SpeechConfig
	dialer *websocket.Dialer
}

var _ Recognizer = (*VolcengineRecognizer)(nil)

// NewVolcengineRecognizer creates a recognizer from speech configuration.
func NewVolcengineRecognizer(cfg config.SpeechConfig) *VolcengineRecognizer {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &VolcengineRecognizer{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: timeout},
	}
}

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info"`
}

// text 返回本帧的完整转写文本；result.text 为空时拼接分句。
func (m asrServerMessage) text() string {
	if text := strings.TrimSpace(m.Result.Text); text != "" {
		return text
	}
	parts := make([]string, 0, len(m.Result.Utterances))
	for _, u := range m.Result.Utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func (r *VolcengineRecognizer) buildRequest(cfg speechmodel.StreamConfig) asrRequest {
	var req asrRequest
	req.User.UID = cfg.ConnectID

	req.Audio.Format = cfg.Format
	if req.Audio.Format == "" {
		req.Audio.Format = "pcm"
	}
	req.Audio.Language = cfg.Language
	if req.Audio.Language == "" {
		req.Audio.Language = r.cfg.ASRLanguage
	}
	req.Audio.Codec = "raw"
	req.Audio.Rate = 16000
	req.Audio.Bits = 16
	req.Audio.Channel = 1

	req.Request.ModelName = r.cfg.ASRModel
	if req.Request.ModelName == "" {
		req.Request.ModelName = "bigmodel"
	}
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800
	return req
}

// Open 建立 WebSocket 连接并发送首帧请求参数。
func (r *VolcengineRecognizer) Open(ctx context.Context, cfg speechmodel.StreamConfig) (RecognitionStream, error) {
	header, err := handshakeHeader(r.cfg, cfg.ConnectID)
	if err != nil {
		return nil, err
	}
	if cfg.ConnectID == "" {
		cfg.ConnectID = header.Get("X-Api-Connect-Id")
	}

	url := r.cfg.ASRURL
	if url == "" {
		url = defaultASRURL
	}

	conn, resp, err := r.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ASR WebSocket: %w", err)
	}
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[asr] connected connect_id=%s logid=%s", cfg.ConnectID, logid)
		}
	}

	body, err := sonic.ConfigStd.Marshal(r.buildRequest(cfg))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to marshal ASR request: %w", err)
	}

	stream := &volcengineStream{
		conn:     conn,
		interim:  cfg.Interim,
		results:  make(chan speechmodel.Result, 16),
		sequence: 1,
		done:     make(chan struct{}),
	}

	frame, err := newConfigFrame(body)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := stream.write(frame); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send ASR request: %w", err)
	}

	go stream.readLoop()
	return stream, nil
}

type volcengineStream struct {
	conn    *websocket.Conn
	interim bool
	results chan speechmodel.Result

	writeMu  sync.Mutex
	sequence int32
	sentLast bool

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
	done      chan struct{}
}

func (s *volcengineStream) write(frame Frame) error {
	data, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Send 发送一块音频；last 为 true 时发送负序号的结束包。
func (s *volcengineStream) Send(chunk []byte, last bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.sentLast {
		return ErrStreamClosed
	}
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}

	s.sequence++
	frame, err := newAudioFrame(chunk, s.sequence, last)
	if err != nil {
		return err
	}
	if err := s.write(frame); err != nil {
		return fmt.Errorf("failed to send audio chunk: %w", err)
	}
	if last {
		s.sentLast = true
	}
	return nil
}

func (s *volcengineStream) Results() <-chan speechmodel.Result {
	return s.results
}

func (s *volcengineStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *volcengineStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *volcengineStream) fail(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *volcengineStream) emit(result speechmodel.Result) bool {
	select {
	case s.results <- result:
		return true
	case <-s.done:
		return false
	}
}

// readLoop 持续读取服务端帧，直到收到最后一帧、出错或被关闭。
func (s *volcengineStream) readLoop() {
	defer close(s.results)
	defer s.Close()

	var lastText string
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.fail(fmt.Errorf("failed to read ASR response: %w", err))
			}
			return
		}

		frame, err := ParseFrame(data)
		if err != nil {
			s.fail(fmt.Errorf("failed to decode ASR frame: %w", err))
			return
		}

		switch frame.Type {
		case ServerError:
			body, _ := frame.Body()
			s.fail(fmt.Errorf("ASR error %d: %s", frame.ErrorCode, strings.TrimSpace(string(body))))
			return

		case FullServerResponse:
			body, err := frame.Body()
			if err != nil {
				s.fail(fmt.Errorf("failed to decompress ASR payload: %w", err))
				return
			}

			var msg asrServerMessage
			if len(body) > 0 {
				if err := sonic.ConfigStd.Unmarshal(body, &msg); err != nil {
					log.Printf("[asr] failed to unmarshal response: %v", err)
					continue
				}
			}
			if msg.Code != 0 && msg.Code != successCode {
				s.fail(fmt.Errorf("ASR API error %d: %s", msg.Code, msg.Message))
				return
			}

			text := msg.text()
			last := frame.Last() || msg.Sequence < 0
			if last {
				if text == "" {
					text = lastText
				}
				s.emit(speechmodel.Result{Text: text, Final: true})
				return
			}

			if text != "" && text != lastText {
				lastText = text
				if s.interim && !s.emit(speechmodel.Result{Text: text}) {
					return
				}
			}

		default:
			// 音频 ACK 等其他帧忽略
		}
	}
}
