package speech

import "time"

// ProviderConfig 火山引擎语音服务配置
type ProviderConfig struct {
	AppID          string `json:"appId"`
	AccessToken    string `json:"accessToken"`
	ConcurrentMode bool   `json:"concurrentMode"` // ASR 并发版资源

	ASRLanguage string `json:"asrLanguage"`

	TTSVoice    string  `json:"ttsVoice"`
	TTSSpeed    float32 `json:"ttsSpeed"`
	TTSVolume   float32 `json:"ttsVolume"`
	TTSLanguage string  `json:"ttsLanguage"`

	Timeout time.Duration `json:"timeout"`
}
