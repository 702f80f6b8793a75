package speech

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/echosketch/backend/internal/middleware"
	"github.com/zhouzirui/echosketch/backend/internal/model/speech"
	"github.com/zhouzirui/echosketch/backend/internal/service/creation"
	speechsvc "github.com/zhouzirui/echosketch/backend/internal/service/speech"
	"github.com/zhouzirui/echosketch/backend/pkg/utils"
)

const (
	messageStart = "start"
	messageAudio = "audio"
	messageStop  = "stop"
	messageAbort = "abort"
	messageText  = "text"

	outEvent = "event"
	outState = "state"
	outError = "error"
)

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StartMessage 开始聆听，可指定音频格式与识别语言
type StartMessage struct {
	Format   string `json:"format"`
	Language string `json:"language"`
}

// AudioMessage 文本帧中携带的 base64 音频；二进制帧直接视为音频
type AudioMessage struct {
	Audio []byte `json:"audio"`
}

// TextMessage 键盘输入
type TextMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// socket 串行化写操作，gorilla 连接不支持并发写
type socket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *socket) send(kind string, data interface{}) {
	payload, err := sonic.ConfigStd.Marshal(outgoingMessage{
		Type:      kind,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		log.Printf("[websocket] marshal %s failed: %v", kind, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Printf("[websocket] write %s failed: %v", kind, err)
	}
}

func (s *socket) sendError(message string) {
	s.send(outError, map[string]string{"message": message})
}

func (s *socket) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// liveSession 一条听写连接的状态：采集适配器在首次 start 时创建
type liveSession struct {
	h         *Handler
	out       *socket
	userID    string
	workspace *creation.Orchestrator
	dictation *speechsvc.Dictation

	capture *speechsvc.Capture
	done    chan struct{}
	submits sync.WaitGroup
}

// handleWebSocket 处理实时听写连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFrom(r.Context())
	ws, err := h.workspaces.Workspace(r.Context(), u.ID)
	if err != nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "session history is temporarily unavailable")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new dictation connection for user: %s", u.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session := &liveSession{
		h:         h,
		out:       &socket{conn: conn},
		userID:    u.ID,
		workspace: ws,
		dictation: speechsvc.NewDictation(ws),
	}
	defer session.close()

	conn.SetReadDeadline(time.Now().Add(h.readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readWait))
		return nil
	})

	states, unsubscribe := ws.Subscribe()
	defer unsubscribe()

	go session.forwardStates(ctx, states)
	go h.pingLoop(ctx, session.out)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.readWait))

		if kind == websocket.BinaryMessage {
			session.feed(data)
			continue
		}

		var msg inboundMessage
		if err := sonic.ConfigStd.Unmarshal(data, &msg); err != nil {
			session.out.sendError("invalid message")
			continue
		}
		session.handleMessage(ctx, &msg)
	}
}

func (s *liveSession) handleMessage(ctx context.Context, msg *inboundMessage) {
	switch msg.Type {
	case messageStart:
		var start StartMessage
		if len(msg.Data) > 0 {
			if err := sonic.ConfigStd.Unmarshal(msg.Data, &start); err != nil {
				s.out.sendError("invalid start payload")
				return
			}
		}
		s.start(ctx, start)
	case messageAudio:
		var audio AudioMessage
		if err := sonic.ConfigStd.Unmarshal(msg.Data, &audio); err != nil {
			s.out.sendError("invalid audio payload")
			return
		}
		s.feed(audio.Audio)
	case messageStop:
		if s.capture == nil {
			return
		}
		if err := s.capture.Stop(); err != nil {
			log.Printf("[websocket] stop failed user=%s: %v", s.userID, err)
			s.out.sendError(err.Error())
		}
	case messageAbort:
		if s.capture != nil {
			s.capture.Abort()
		}
	case messageText:
		var text TextMessage
		if err := sonic.ConfigStd.Unmarshal(msg.Data, &text); err != nil {
			s.out.sendError("invalid text payload")
			return
		}
		s.submitText(ctx, text.Text)
	default:
		s.out.sendError("unsupported message type: " + msg.Type)
	}
}

// start 开始一次聆听；识别不可用时按 unsupported 错误处理
func (s *liveSession) start(ctx context.Context, msg StartMessage) {
	if s.capture == nil {
		format := strings.ToLower(strings.TrimSpace(msg.Format))
		if format == "" {
			format = "pcm"
		}
		s.capture = s.h.speechSvc.NewCapture(format, msg.Language)
		s.h.speechSvc.Captures().Attach(s.userID, s.capture)

		s.done = make(chan struct{})
		go func(capture *speechsvc.Capture) {
			defer close(s.done)
			// 连接断开后仍需排空事件，进行中的创作结果照常入库
			s.dictation.Run(context.WithoutCancel(ctx), capture.Events(), s.observe)
		}(s.capture)
	}

	err := s.capture.Start(ctx)
	switch {
	case err == nil:
	case errors.Is(err, speechsvc.ErrUnsupported):
		s.fail(ctx, speech.ReasonUnsupported)
	case errors.Is(err, speechsvc.ErrAlreadyListening), errors.Is(err, speechsvc.ErrCaptureClosed):
		s.out.sendError(err.Error())
	default:
		log.Printf("[websocket] start capture failed user=%s: %v", s.userID, err)
		s.fail(ctx, speech.ReasonNetwork)
	}
}

func (s *liveSession) feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if s.capture == nil {
		s.out.sendError(speechsvc.ErrNotListening.Error())
		return
	}
	if err := s.capture.Feed(chunk); err != nil {
		s.out.sendError(err.Error())
	}
}

// submitText 异步提交键盘输入，读循环不被创作流程阻塞
func (s *liveSession) submitText(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if !s.workspace.AcceptsInput(creation.SourceText) {
		s.out.sendError(creation.ErrBusy.Error())
		return
	}

	s.submits.Add(1)
	go func() {
		defer s.submits.Done()
		if _, err := s.workspace.Submit(context.WithoutCancel(ctx), creation.SourceText, text); err != nil {
			s.out.sendError(err.Error())
		}
	}()
}

func (s *liveSession) fail(ctx context.Context, reason string) {
	event := speech.Failure(reason)
	s.dictation.Apply(ctx, event)
	s.observe(event)
}

func (s *liveSession) observe(event speech.Event) {
	s.out.send(outEvent, event)
}

func (s *liveSession) forwardStates(ctx context.Context, states <-chan creation.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			s.out.send(outState, state)
		}
	}
}

// close 关闭采集并等待事件消费结束
func (s *liveSession) close() {
	if s.capture != nil {
		s.h.speechSvc.Captures().Detach(s.userID, s.capture)
		s.capture.Close()
		<-s.done
	}
	s.submits.Wait()
	log.Printf("[websocket] dictation connection closed for user: %s", s.userID)
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, out *socket) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := out.ping(); err != nil {
				return
			}
		}
	}
}
