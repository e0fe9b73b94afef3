package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ClientConfig 描述终端语音客户端的配置。
type ClientConfig struct {
	BaseURL string
	WSPath  string
	TTSURL  string

	ConnectTimeout   time.Duration
	SettleDelay      time.Duration
	ProcessingWindow time.Duration
	FrameInterval    time.Duration

	CaptureCommand string
	PlayerCommand  string
	SynthCommand   string

	// Playback 取值 server、tts、off。
	Playback string
	Cues     bool
}

// LoadClient 从 VOICECALL_* 环境变量加载客户端配置。
func LoadClient() (*ClientConfig, error) {
	base := strings.TrimRight(getEnvOrDefault("VOICECALL_BASE_URL", "http://localhost:8000"), "/")
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid VOICECALL_BASE_URL value %q", base)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, fmt.Errorf("invalid VOICECALL_BASE_URL scheme %q", u.Scheme)
	}

	path := getEnvOrDefault("VOICECALL_WS_PATH", "/ws")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	cfg := &ClientConfig{
		BaseURL:        base,
		WSPath:         path,
		TTSURL:         getEnvOrDefault("VOICECALL_TTS_URL", httpBase(u)+"/tts"),
		CaptureCommand: getEnvOrDefault("VOICECALL_CAPTURE_CMD", ""),
		PlayerCommand:  getEnvOrDefault("VOICECALL_PLAYER_CMD", "ffplay"),
		SynthCommand:   getEnvOrDefault("VOICECALL_SYNTH_CMD", ""),
		Playback:       strings.ToLower(getEnvOrDefault("VOICECALL_PLAYBACK", "server")),
	}

	switch cfg.Playback {
	case "server", "tts", "off":
	default:
		return nil, fmt.Errorf("invalid VOICECALL_PLAYBACK value %q", cfg.Playback)
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"VOICECALL_CONNECT_TIMEOUT", 5 * time.Second, &cfg.ConnectTimeout},
		{"VOICECALL_SETTLE_DELAY", 2 * time.Second, &cfg.SettleDelay},
		{"VOICECALL_PROCESSING_WINDOW", 1500 * time.Millisecond, &cfg.ProcessingWindow},
		{"VOICECALL_FRAME_INTERVAL", 16 * time.Millisecond, &cfg.FrameInterval},
	}
	for _, d := range durations {
		v, err := parseDurationEnv(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	if cfg.Cues, err = parseBoolEnv("VOICECALL_CUES", true); err != nil {
		return nil, err
	}

	return cfg, nil
}

// httpBase 把 ws/wss 地址映射回 http/https，供 TTS 请求使用。
func httpBase(u *url.URL) string {
	c := *u
	switch c.Scheme {
	case "ws":
		c.Scheme = "http"
	case "wss":
		c.Scheme = "https"
	}
	c.RawQuery = ""
	c.Fragment = ""
	return strings.TrimRight(c.String(), "/")
}
