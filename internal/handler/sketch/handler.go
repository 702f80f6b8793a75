package sketch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/echosketch/backend/internal/middleware"
	"github.com/zhouzirui/echosketch/backend/internal/service/creation"
	"github.com/zhouzirui/echosketch/backend/internal/service/image"
	"github.com/zhouzirui/echosketch/backend/internal/service/status"
	"github.com/zhouzirui/echosketch/backend/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// Workspaces 按用户返回创作工作区
type Workspaces interface {
	Workspace(ctx context.Context, userID string) (*creation.Orchestrator, error)
}

type workspaceKey struct{}

// Handler 创作与会话历史的HTTP处理器
type Handler struct {
	workspaces Workspaces
	auth       middleware.Authenticator
	now        func() time.Time
	heartbeat  time.Duration
}

// New 创建创作处理器
func New(workspaces Workspaces, auth middleware.Authenticator) *Handler {
	return &Handler{
		workspaces: workspaces,
		auth:       auth,
		now:        time.Now,
		heartbeat:  heartbeatInterval,
	}
}

// stateResponse 在状态快照之外附带状态栏文案
type stateResponse struct {
	creation.State
	Status *status.Payload `json:"status,omitempty"`
}

// RegisterRoutes 注册创作相关的路由，全部需要登录
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(pr chi.Router) {
		pr.Use(middleware.RequireAuth(h.auth))
		pr.Use(h.loadWorkspace)

		pr.Route("/sketches", func(sr chi.Router) {
			sr.Post("/", h.handleCreate)
			sr.Get("/state", h.handleState)
			sr.Get("/status", h.handleStatus)
			sr.Post("/new", h.handleNewSession)
			sr.Get("/events", h.handleEvents)
		})

		pr.Route("/sessions", func(sr chi.Router) {
			sr.Get("/", h.handleListSessions)
			sr.Get("/{sessionID}", h.handleGetSession)
			sr.Post("/{sessionID}/select", h.handleSelectSession)
			sr.Get("/{sessionID}/download", h.handleDownload)
		})
	})
}

// loadWorkspace 解析当前用户的工作区；历史读取失败时返回 503，不以空列表继续
func (h *Handler) loadWorkspace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := middleware.UserFrom(r.Context())
		ws, err := h.workspaces.Workspace(r.Context(), u.ID)
		if err != nil {
			utils.RespondError(w, http.StatusServiceUnavailable, "session history is temporarily unavailable")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), workspaceKey{}, ws)))
	})
}

func (h *Handler) workspace(r *http.Request) *creation.Orchestrator {
	ws, _ := r.Context().Value(workspaceKey{}).(*creation.Orchestrator)
	return ws
}

// handleCreate 提交键盘输入并同步等待创作结束
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Transcript string `json:"transcript"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Transcript) == "" {
		utils.RespondError(w, http.StatusBadRequest, "transcript is required")
		return
	}

	ws := h.workspace(r)
	// 客户端断开不应中断进行中的创作，结果仍会写入历史
	ctx := context.WithoutCancel(r.Context())
	state, err := ws.Submit(ctx, creation.SourceText, payload.Transcript)
	if err != nil {
		if errors.Is(err, creation.ErrBusy) {
			utils.RespondJSON(w, http.StatusConflict, map[string]any{
				"error": err.Error(),
				"state": state,
			})
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, withStatus(state))
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, withStatus(h.workspace(r).State()))
}

// handleStatus 返回状态栏的标题、文案与强调色
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := h.workspace(r).State()
	payload, err := status.Describe(state.LoadingState, state.Active != nil, state.Error)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleNewSession(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, withStatus(h.workspace(r).NewSession()))
}

// handleEvents 以SSE推送状态变化，空闲时发送心跳
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ws := h.workspace(r)
	updates, cancel := ws.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)

	ctx := r.Context()
	u, _ := middleware.UserFrom(ctx)
	log.Printf("[sse] opening state stream for user=%s", u.ID)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing state stream for user=%s", u.ID)
			return
		case state, ok := <-updates:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, "state", withStatus(state)); err != nil {
				log.Printf("[sse] write failed for user=%s: %v", u.ID, err)
				return
			}
		case t := <-ticker.C:
			if err := utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"time": t.UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.workspace(r).Sessions())
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.workspace(r).Session(chi.URLParam(r, "sessionID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, creation.ErrSessionNotFound.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleSelectSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.workspace(r).SelectSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		if errors.Is(err, creation.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, withStatus(state))
}

// handleDownload 以附件形式返回会话图片；远程地址直接重定向
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	session, ok := h.workspace(r).Session(chi.URLParam(r, "sessionID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, creation.ErrSessionNotFound.Error())
		return
	}

	mime, data, err := image.DecodeDataURI(session.ImageURL)
	if err != nil {
		if errors.Is(err, image.ErrNotDataURI) && isRemote(session.ImageURL) {
			http.Redirect(w, r, session.ImageURL, http.StatusFound)
			return
		}
		log.Printf("[sketch] cannot decode image for session=%s: %v", session.ID, err)
		utils.RespondError(w, http.StatusUnprocessableEntity, "image is not downloadable")
		return
	}

	filename := fmt.Sprintf("echosketch_image_%d.%s", h.now().UnixMilli(), image.Extension(mime))
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("[sketch] download write failed: %v", err)
	}
}

func withStatus(state creation.State) stateResponse {
	resp := stateResponse{State: state}
	if payload, err := status.Describe(state.LoadingState, state.Active != nil, state.Error); err == nil {
		resp.Status = &payload
	}
	return resp
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://")
}
