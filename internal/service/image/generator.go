// Package image 负责根据提示词生成图片引用（data URI 或远程 URL）。
package image

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/zhouzirui/echosketch/backend/internal/config"
)

const maxSeed = 100000

var unsafePromptChars = regexp.MustCompile(`[^a-zA-Z0-9 ,-]`)

// Service turns prompts into image references.
type Service struct {
	cfg    config.ImageConfig
	client *http.Client
	seed   func() int
}

// Option customises a Service.
type Option func(*Service)

// WithHTTPClient overrides the client used for image fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		s.client = client
	}
}

// WithSeed 固定随机种子来源，便于测试。
func WithSeed(seed func() int) Option {
	return func(s *Service) {
		s.seed = seed
	}
}

// NewService creates an image service from configuration.
func NewService(cfg config.ImageConfig, opts ...Option) *Service {
	if cfg.Width <= 0 {
		cfg.Width = 512
	}
	if cfg.Height <= 0 {
		cfg.Height = 512
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = config.DefaultImageMaxBytes
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	s := &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		seed:   func() int { return rand.IntN(maxSeed) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether remote generation is configured.
func (s *Service) Enabled() bool {
	return s.cfg.Enabled && s.cfg.BaseURL != ""
}

// Generate 生成图片引用。
// 未启用时返回占位 SVG；远程请求失败时退回直接 URL，只有 ctx 取消会返回错误。
func (s *Service) Generate(ctx context.Context, prompt string) (string, error) {
	if !s.Enabled() {
		return Placeholder(prompt), nil
	}

	imageURL := s.BuildURL(prompt, s.seed())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		log.Printf("[image] 构造请求失败，使用占位图: %v", err)
		return Placeholder(prompt), nil
	}
	req.Header.Set("Accept", "image/*")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		log.Printf("[image] 图片请求失败，使用直接 URL: %v", err)
		return imageURL, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[image] 图片请求返回 %d，使用直接 URL", resp.StatusCode)
		return imageURL, nil
	}

	// 多读一个字节用于判断是否超出上限
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBytes+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		log.Printf("[image] 读取图片失败，使用直接 URL: %v", err)
		return imageURL, nil
	}
	if int64(len(data)) > s.cfg.MaxBytes {
		log.Printf("[image] 图片超过 %d 字节，使用直接 URL", s.cfg.MaxBytes)
		return imageURL, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}

	log.Printf("[image] fetched image, type=%s, bytes=%d", contentType, len(data))
	return EncodeDataURI(contentType, data), nil
}

// BuildURL 构造带尺寸与随机种子的图片地址。
func (s *Service) BuildURL(prompt string, seed int) string {
	query := url.Values{}
	query.Set("width", fmt.Sprint(s.cfg.Width))
	query.Set("height", fmt.Sprint(s.cfg.Height))
	query.Set("seed", fmt.Sprint(seed))
	query.Set("nologo", "true")

	return fmt.Sprintf("%s/prompt/%s?%s", s.cfg.BaseURL, url.PathEscape(SanitizePrompt(prompt)), query.Encode())
}

// SanitizePrompt removes everything but letters, digits, spaces, commas and hyphens.
func SanitizePrompt(prompt string) string {
	return strings.TrimSpace(unsafePromptChars.ReplaceAllString(prompt, ""))
}

// EncodeDataURI wraps raw bytes as a base64 data URI.
func EncodeDataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
