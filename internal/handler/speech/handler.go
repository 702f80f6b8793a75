package speech

import (
	"context"
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/echosketch/backend/internal/middleware"
	"github.com/zhouzirui/echosketch/backend/internal/model/speech"
	"github.com/zhouzirui/echosketch/backend/internal/service/creation"
	speechsvc "github.com/zhouzirui/echosketch/backend/internal/service/speech"
	"github.com/zhouzirui/echosketch/backend/pkg/utils"
)

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	Enabled() bool
	TranscribeFile(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
	NewCapture(format, language string) *speechsvc.Capture
	Captures() *speechsvc.CaptureRegistry
}

// Workspaces 按用户返回创作工作区
type Workspaces interface {
	Workspace(ctx context.Context, userID string) (*creation.Orchestrator, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc  SpeechService
	workspaces Workspaces
	auth       middleware.Authenticator
	upgrader   websocket.Upgrader
	readWait   time.Duration
	pingPeriod time.Duration
}

// New 创建语音处理器
func New(speechSvc SpeechService, workspaces Workspaces, auth middleware.Authenticator) *Handler {
	return &Handler{
		speechSvc:  speechSvc,
		workspaces: workspaces,
		auth:       auth,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		readWait:   60 * time.Second,
		pingPeriod: 54 * time.Second,
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		// 健康检查
		speechRouter.Get("/health", h.handleHealth)

		speechRouter.Group(func(pr chi.Router) {
			pr.Use(middleware.RequireAuth(h.auth))

			// ASR 端点
			pr.Post("/transcribe", h.handleTranscribe)

			// 实时听写
			pr.Get("/ws", h.handleWebSocket)
		})
	})
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if !h.speechSvc.Enabled() {
		utils.RespondError(w, http.StatusServiceUnavailable, speechsvc.ErrorMessage(speech.ReasonUnsupported))
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32MB max
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	format := strings.ToLower(strings.TrimSpace(r.FormValue("format")))
	if format == "" {
		format = inferAudioFormat(header.Filename)
	}

	req := &speech.ASRRequest{
		SessionID: r.FormValue("sessionId"),
		AudioData: file,
		Format:    format,
		Language:  r.FormValue("language"),
	}

	log.Printf("[speech] transcribe file=%s size=%d format=%s", header.Filename, header.Size, format)

	resp, err := h.speechSvc.TranscribeFile(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, speechsvc.ErrNoSpeech):
			utils.RespondError(w, http.StatusUnprocessableEntity, speech.ReasonNoSpeech)
		case errors.Is(err, speechsvc.ErrUnsupported):
			utils.RespondError(w, http.StatusServiceUnavailable, speechsvc.ErrorMessage(speech.ReasonUnsupported))
		default:
			log.Printf("[speech] ASR error: %v", err)
			utils.RespondError(w, http.StatusBadGateway, "speech recognition failed")
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !h.speechSvc.Enabled() {
		status = "unsupported"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"service": "speech",
		"asr":     h.speechSvc.Enabled(),
	})
}

// inferAudioFormat 从文件名推断音频格式
func inferAudioFormat(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".mp3":
		return "mp3"
	case ".ogg", ".opus":
		return "ogg"
	case ".pcm", ".raw":
		return "pcm"
	default:
		return "wav"
	}
}
