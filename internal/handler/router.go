package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/echosketch/backend/internal/handler/auth"
	"github.com/zhouzirui/echosketch/backend/internal/handler/sketch"
	"github.com/zhouzirui/echosketch/backend/internal/handler/speech"
	middlewarePkg "github.com/zhouzirui/echosketch/backend/internal/middleware"
	authService "github.com/zhouzirui/echosketch/backend/internal/service/auth"
	"github.com/zhouzirui/echosketch/backend/internal/service/creation"
	speechService "github.com/zhouzirui/echosketch/backend/internal/service/speech"
	"github.com/zhouzirui/echosketch/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(allowedOrigin string, authSvc *authService.Service, workspaces *creation.Registry, speechSvc *speechService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(allowedOrigin))

	// Create handlers
	authHandler := auth.New(authSvc)
	sketchHandler := sketch.New(workspaces, authSvc)
	speechHandler := speech.New(speechSvc, workspaces, authSvc)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		// Register auth and route-guard endpoints
		authHandler.RegisterRoutes(api)

		// Register creation and history endpoints
		sketchHandler.RegisterRoutes(api)

		// Register speech routes; without credentials they report unsupported
		speechHandler.RegisterRoutes(api)
	})

	return r
}
