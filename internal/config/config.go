package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"golang.org/x/crypto/bcrypt"
)

// Provider names accepted by AI_PROVIDER.
const (
	ProviderArk    = "ark"
	ProviderGemini = "gemini"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Image   ImageConfig
	Speech  SpeechConfig
	Storage StorageConfig
	Auth    AuthConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	image, err := loadImageConfig(ai.Enabled())
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	storage := StorageConfig{DataDir: getEnvOrDefault("DATA_DIR", "data")}

	return &Config{Server: server, AI: ai, Image: image, Speech: speech, Storage: storage, Auth: auth}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr          string
	AllowedOrigin string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origin := getEnvOrDefault("CORS_ALLOWED_ORIGIN", "*")

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigin: origin}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigin: origin}, nil
}

// AIConfig 描述提示词增强所用大模型的配置。
type AIConfig struct {
	Provider        string
	APIKey          string
	AccessKey       string
	SecretKey       string
	Model           string
	BaseURL         string
	Region          string
	Temperature     *float64
	TopP            *float64
	MaxTokens       *int
	GeminiAPIKey    string
	GeminiModel     string
	FallbackOnError bool
}

// ArkEnabled reports whether Ark credentials and a model are configured.
func (c AIConfig) ArkEnabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// GeminiEnabled reports whether a Gemini key is configured.
func (c AIConfig) GeminiEnabled() bool {
	return c.GeminiAPIKey != ""
}

// Enabled 表示所选提供方是否具备必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.ArkEnabled()
	case ProviderGemini:
		return c.GeminiEnabled()
	default:
		return false
	}
}

// NewChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	fallback, err := parseBoolEnv("ENHANCE_FALLBACK_ON_ERROR", true)
	if err != nil {
		return AIConfig{}, err
	}

	modelName := strings.TrimSpace(os.Getenv("ARK_MODEL"))
	if modelName == "" {
		modelName = strings.TrimSpace(os.Getenv("Model"))
	}

	geminiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if geminiKey == "" {
		geminiKey = strings.TrimSpace(os.Getenv("API_KEY"))
	}

	cfg := AIConfig{
		APIKey:          strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:       strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:       strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:           modelName,
		BaseURL:         getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:          getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:     temperature,
		TopP:            topP,
		MaxTokens:       maxTokens,
		GeminiAPIKey:    geminiKey,
		GeminiModel:     getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash-exp"),
		FallbackOnError: fallback,
	}

	provider := strings.ToLower(strings.TrimSpace(os.Getenv("AI_PROVIDER")))
	switch provider {
	case "":
		// 未显式指定时，优先使用已配置凭证的提供方。
		switch {
		case cfg.ArkEnabled():
			provider = ProviderArk
		case cfg.GeminiEnabled():
			provider = ProviderGemini
		}
	case ProviderArk, ProviderGemini:
	default:
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q: want %q or %q", provider, ProviderArk, ProviderGemini)
	}
	cfg.Provider = provider

	return cfg, nil
}

// DefaultImageMaxBytes caps a fetched image at 10 MiB.
const DefaultImageMaxBytes = 10 << 20

// ImageConfig 描述图片生成端点。
type ImageConfig struct {
	Enabled bool
	BaseURL string
	Width   int
	Height  int
	Timeout time.Duration

	// MaxBytes 单张图片允许读取的最大字节数
	MaxBytes int64
}

func loadImageConfig(aiEnabled bool) (ImageConfig, error) {
	enabled, err := parseBoolEnv("IMAGE_ENABLED", aiEnabled)
	if err != nil {
		return ImageConfig{}, err
	}

	width, err := parseIntEnvWithDefault("IMAGE_WIDTH", 512)
	if err != nil {
		return ImageConfig{}, err
	}
	height, err := parseIntEnvWithDefault("IMAGE_HEIGHT", 512)
	if err != nil {
		return ImageConfig{}, err
	}
	if width <= 0 || height <= 0 {
		return ImageConfig{}, fmt.Errorf("invalid image size %dx%d", width, height)
	}

	timeoutSeconds, err := parseIntEnvWithDefault("IMAGE_TIMEOUT", 60)
	if err != nil {
		return ImageConfig{}, err
	}

	maxBytes, err := parseIntEnvWithDefault("IMAGE_MAX_BYTES", DefaultImageMaxBytes)
	if err != nil {
		return ImageConfig{}, err
	}
	if maxBytes <= 0 {
		return ImageConfig{}, fmt.Errorf("invalid IMAGE_MAX_BYTES %d", maxBytes)
	}

	return ImageConfig{
		Enabled:  enabled,
		BaseURL:  strings.TrimRight(getEnvOrDefault("IMAGE_BASE_URL", "https://image.pollinations.ai"), "/"),
		Width:    width,
		Height:   height,
		Timeout:  time.Duration(timeoutSeconds) * time.Second,
		MaxBytes: int64(maxBytes),
	}, nil
}

// SpeechConfig 描述语音识别服务相关配置
type SpeechConfig struct {
	AppID          string
	AccessToken    string
	APIKey         string
	ASRURL         string
	ASRModel       string
	ASRLanguage    string
	ConcurrentMode bool
	Timeout        int
	Enabled        bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseIntEnvWithDefault("SPEECH_TIMEOUT", 30)
	if err != nil {
		return SpeechConfig{}, err
	}

	concurrent, err := parseBoolEnv("SPEECH_CONCURRENT_MODE", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if accessToken == "" {
		accessToken = apiKey
	}

	return SpeechConfig{
		AppID:          appID,
		AccessToken:    accessToken,
		APIKey:         apiKey,
		ASRURL:         getEnvOrDefault("SPEECH_ASR_URL", "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"),
		ASRModel:       getEnvOrDefault("SPEECH_ASR_MODEL", "bigmodel"),
		ASRLanguage:    getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		ConcurrentMode: concurrent,
		Timeout:        timeout,
		Enabled:        appID != "" && accessToken != "",
	}, nil
}

// StorageConfig 描述本地键值存储位置。
type StorageConfig struct {
	DataDir string
}

// AuthConfig 描述本地账户的密码策略。
type AuthConfig struct {
	BcryptCost        int
	MinPasswordLength int
}

func loadAuthConfig() (AuthConfig, error) {
	cost, err := parseIntEnvWithDefault("AUTH_BCRYPT_COST", bcrypt.DefaultCost)
	if err != nil {
		return AuthConfig{}, err
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return AuthConfig{}, fmt.Errorf("invalid AUTH_BCRYPT_COST value %d", cost)
	}

	minLength, err := parseIntEnvWithDefault("AUTH_MIN_PASSWORD", 6)
	if err != nil {
		return AuthConfig{}, err
	}

	return AuthConfig{BcryptCost: cost, MinPasswordLength: minLength}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnvWithDefault(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
