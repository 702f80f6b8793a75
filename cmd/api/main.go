package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/echosketch/backend/internal/config"
	"github.com/zhouzirui/echosketch/backend/internal/handler"
	"github.com/zhouzirui/echosketch/backend/internal/service/ai"
	"github.com/zhouzirui/echosketch/backend/internal/service/auth"
	"github.com/zhouzirui/echosketch/backend/internal/service/creation"
	"github.com/zhouzirui/echosketch/backend/internal/service/image"
	"github.com/zhouzirui/echosketch/backend/internal/service/speech"
	"github.com/zhouzirui/echosketch/backend/internal/storage/kv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize key/value storage
	store := kv.NewFileStore(cfg.Storage.DataDir)
	log.Printf("storage rooted at %s", store.Root())

	// Initialize AI service
	aiService, err := ai.NewService(ctx, cfg.AI)
	if err != nil {
		log.Printf("warning: failed to initialize AI service: %v", err)
		log.Println("continuing with placeholder prompts - 请检查 Ark/Gemini 相关环境变量")
		aiService = ai.NewServiceWithProvider(nil, cfg.AI.FallbackOnError)
	}
	defer aiService.Close()

	// Initialize image service
	imageService := image.NewService(cfg.Image)
	if imageService.Enabled() {
		log.Printf("Image generation via %s", cfg.Image.BaseURL)
	} else {
		log.Println("图片生成未启用，使用占位图")
	}

	workspaces := creation.NewRegistry(store, aiService, imageService)
	authService := auth.NewService(ctx, store, cfg.Auth)
	log.Printf("Loaded %d accounts", authService.Count())

	// Initialize Speech service
	speechService := speech.NewService(cfg.Speech)
	defer speechService.Captures().CloseAll()
	if speechService.Enabled() {
		log.Println("Speech service initialized successfully")
	} else {
		log.Println("语音服务凭证未配置，语音输入将返回 unsupported")
	}

	router := handler.NewRouter(cfg.Server.AllowedOrigin, authService, workspaces, speechService)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Echosketch backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Printf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
