package speech

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/zhouzirui/echosketch/backend/internal/config"
)

const (
	resourceDuration   = "volc.bigasr.sauc.duration"
	resourceConcurrent = "volc.bigasr.sauc.concurrent"
)

// ErrMissingCredentials 表示未配置 AppID 或 AccessToken。
var ErrMissingCredentials = errors.New("火山引擎语音配置缺少 AppID 或 AccessToken")

// handshakeHeader 构造建连所需的鉴权头；connectID 为空时生成新的 UUID。
func handshakeHeader(cfg config.SpeechConfig, connectID string) (http.Header, error) {
	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if appID == "" || token == "" {
		return nil, ErrMissingCredentials
	}

	if connectID == "" {
		connectID = uuid.NewString()
	}

	resourceID := resourceDuration
	if cfg.ConcurrentMode {
		resourceID = resourceConcurrent
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)
	return header, nil
}
