package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voicecall/internal/model/speech"
)

var (
	// ErrEmptyAudio 表示没有可识别的音频。
	ErrEmptyAudio = errors.New("speech: no audio data to send")
	// ErrEmptyText 表示合成文本为空。
	ErrEmptyText = errors.New("speech: TTS text is empty")
)

const (
	DefaultASRURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	DefaultTTSURL = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

	// 16kHz, 16bit, mono, 200ms = 6400 bytes
	asrChunkSize        = 6400
	defaultChunkPacing  = 200 * time.Millisecond
	defaultProviderWait = 30 * time.Second
)

// Provider 是 agentd 使用的语音识别与合成能力。
type Provider interface {
	Transcribe(ctx context.Context, req *speech.TranscriptionRequest) (*speech.Transcript, error)
	Synthesize(ctx context.Context, req *speech.SynthesisRequest) (*speech.Synthesis, error)
}

// Option 调整 Service 的连接参数。
type Option func(*Service)

// WithEndpoints 替换 ASR / TTS WebSocket 地址，空字符串保持默认。
func WithEndpoints(asrURL, ttsURL string) Option {
	return func(s *Service) {
		if asrURL != "" {
			s.asr.url = asrURL
		}
		if ttsURL != "" {
			s.tts.url = ttsURL
		}
	}
}

// WithChunkPacing 设置音频分包之间的发送间隔。
func WithChunkPacing(d time.Duration) Option {
	return func(s *Service) { s.asr.pacing = d }
}

// Service 语音服务，封装火山引擎 ASR 与 TTS 客户端。
type Service struct {
	config speech.ProviderConfig
	asr    *asrClient
	tts    *ttsClient
}

var _ Provider = (*Service)(nil)

// NewService 创建语音服务实例；缺少凭证时返回错误。
func NewService(cfg speech.ProviderConfig, opts ...Option) (*Service, error) {
	appID, token, err := resolveCredentials(&cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProviderWait
	}

	dialer := &websocket.Dialer{HandshakeTimeout: cfg.Timeout}
	creds := credentials{appID: appID, token: token}

	s := &Service{
		config: cfg,
		asr: &asrClient{
			url:        DefaultASRURL,
			dialer:     dialer,
			creds:      creds,
			concurrent: cfg.ConcurrentMode,
			pacing:     defaultChunkPacing,
		},
		tts: &ttsClient{
			url:    DefaultTTSURL,
			dialer: dialer,
			creds:  creds,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Transcribe 语音转文字
func (s *Service) Transcribe(ctx context.Context, req *speech.TranscriptionRequest) (*speech.Transcript, error) {
	if req == nil || len(req.Audio) == 0 {
		return nil, ErrEmptyAudio
	}

	r := *req
	if strings.TrimSpace(r.Format) == "" {
		r.Format = "wav"
	}
	if strings.TrimSpace(r.Language) == "" {
		r.Language = s.config.ASRLanguage
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	out, err := s.asr.transcribe(ctx, &r)
	if err != nil {
		return nil, fmt.Errorf("asr: %w", err)
	}
	return out, nil
}

// Synthesize 文字转语音
func (s *Service) Synthesize(ctx context.Context, req *speech.SynthesisRequest) (*speech.Synthesis, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	r := *req
	if r.Speed <= 0 {
		r.Speed = s.config.TTSSpeed
	}
	if r.Volume <= 0 {
		r.Volume = s.config.TTSVolume
	}
	if strings.TrimSpace(r.Language) == "" {
		r.Language = s.config.TTSLanguage
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	out, err := s.tts.synthesize(ctx, &r, s.config.TTSVoice)
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	return out, nil
}
