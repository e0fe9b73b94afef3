package speech

import (
	"fmt"
	"net/http"
	"strings"

	speechmodel "github.com/zhouzirui/voicecall/internal/model/speech"
)

type credentials struct {
	appID string
	token string
}

// header 构造火山引擎鉴权请求头。
func (c credentials) header(resourceID, connectID string) http.Header {
	h := http.Header{}
	h.Set("X-Api-App-Key", c.appID)
	h.Set("X-Api-Access-Key", c.token)
	h.Set("X-Api-Resource-Id", resourceID)
	h.Set("X-Api-Connect-Id", connectID)
	return h
}

// resolveCredentials 返回规范化后的 AppID 与 AccessToken，缺失时给出明确错误。
func resolveCredentials(cfg *speechmodel.ProviderConfig) (string, string, error) {
	if cfg == nil {
		return "", "", fmt.Errorf("火山引擎语音配置未初始化")
	}

	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if appID == "" || token == "" {
		return "", "", fmt.Errorf("火山引擎语音配置缺少 AppID 或 AccessToken")
	}

	return appID, token, nil
}
