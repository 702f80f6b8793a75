package auth

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/echosketch/backend/internal/middleware"
	"github.com/zhouzirui/echosketch/backend/internal/model/user"
	authsvc "github.com/zhouzirui/echosketch/backend/internal/service/auth"
	"github.com/zhouzirui/echosketch/backend/internal/service/route"
	"github.com/zhouzirui/echosketch/backend/pkg/utils"
)

// Service 抽象账户业务，便于测试与替换实现
type Service interface {
	SignUp(ctx context.Context, name, email, password string) (user.User, string, error)
	SignIn(ctx context.Context, email, password string) (user.User, string, error)
	SignOut(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (user.User, error)
	UpdateProfile(ctx context.Context, token, name, email, picture string) (user.User, error)
}

// Handler 账户与路由守卫的HTTP处理器
type Handler struct {
	svc Service
}

// New 创建账户处理器
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

type sessionResponse struct {
	User  user.User `json:"user"`
	Token string    `json:"token"`
}

// RegisterRoutes 注册账户相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/route", h.handleRoute)

	r.Route("/auth", func(ar chi.Router) {
		ar.Post("/signup", h.handleSignUp)
		ar.Post("/signin", h.handleSignIn)

		ar.Group(func(pr chi.Router) {
			pr.Use(middleware.RequireAuth(h.svc))
			pr.Post("/signout", h.handleSignOut)
			pr.Get("/me", h.handleMe)
			pr.Put("/profile", h.handleUpdateProfile)
		})
	})
}

// handleSignUp 注册并立即登录
func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, token, err := h.svc.SignUp(r.Context(), payload.Name, payload.Email, payload.Password)
	if err != nil {
		respondAuthError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, sessionResponse{User: u, Token: token})
}

// handleSignIn 校验凭证并签发令牌
func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, token, err := h.svc.SignIn(r.Context(), payload.Email, payload.Password)
	if err != nil {
		respondAuthError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, sessionResponse{User: u, Token: token})
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.SignOut(r.Context(), middleware.TokenFrom(r.Context())); err != nil {
		log.Printf("[auth] sign out failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "sign out failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFrom(r.Context())
	utils.RespondJSON(w, http.StatusOK, u)
}

// handleUpdateProfile 更新名称、邮箱与头像
func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name           string `json:"name"`
		Email          string `json:"email"`
		ProfilePicture string `json:"profilePicture"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.svc.UpdateProfile(r.Context(), middleware.TokenFrom(r.Context()), payload.Name, payload.Email, payload.ProfilePicture)
	if err != nil {
		respondAuthError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, u)
}

// handleRoute 根据登录状态解析前端路由；令牌可选
func (h *Handler) handleRoute(w http.ResponseWriter, r *http.Request) {
	authenticated := false
	if token := middleware.BearerToken(r); token != "" {
		if _, err := h.svc.Authenticate(r.Context(), token); err == nil {
			authenticated = true
		}
	}

	utils.RespondJSON(w, http.StatusOK, route.Resolve(r.URL.Query().Get("path"), authenticated))
}

func respondAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authsvc.ErrAccountExists), errors.Is(err, authsvc.ErrEmailInUse):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, authsvc.ErrWeakPassword), errors.Is(err, authsvc.ErrPasswordTooLong), errors.Is(err, authsvc.ErrEmailRequired), errors.Is(err, authsvc.ErrEmptyName):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, authsvc.ErrInvalidCredentials), errors.Is(err, authsvc.ErrUnauthenticated):
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
	default:
		log.Printf("[auth] request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
