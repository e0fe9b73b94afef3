package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// SpeakerOptions Speaker 配置
type SpeakerOptions struct {
	// TTSURL 接收 ?text= 的 HTTP 接口，为空时直接用本地合成
	TTSURL      string
	HTTPClient  *http.Client
	Player      Player
	Synthesizer Synthesizer
	Voice       VoiceParams
}

// Speaker 朗读 agent 回复：优先远程 TTS，失败后用本地合成
type Speaker struct {
	ttsURL string
	client *http.Client
	player Player
	synth  Synthesizer
	params VoiceParams

	voiceOnce sync.Once
	voice     *Voice
}

// NewSpeaker 为 opts 填充默认值
func NewSpeaker(opts SpeakerOptions) *Speaker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	player := opts.Player
	if player == nil {
		player = &CommandPlayer{}
	}
	synth := opts.Synthesizer
	if synth == nil {
		synth = &CommandSynthesizer{}
	}
	params := opts.Voice
	if params == (VoiceParams{}) {
		params = DefaultVoiceParams
	}
	return &Speaker{
		ttsURL: strings.TrimSpace(opts.TTSURL),
		client: client,
		player: player,
		synth:  synth,
		params: params,
	}
}

// Speak 朗读 text，播完返回。
// 返回错误说明 TTS 和本地合成都失败了；没有本地合成器时包装 ErrSynthesisUnsupported。
func (s *Speaker) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	ttsErr := errors.New("no tts endpoint configured")
	if s.ttsURL != "" {
		data, format, err := s.fetch(ctx, text)
		if err == nil {
			err = s.player.Play(ctx, data, format)
		}
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		ttsErr = err
		log.Printf("[playback] tts failed, falling back to synthesizer: %v", err)
	}

	if err := s.synthesize(ctx, text); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("speak: %w", errors.Join(err, ttsErr))
	}
	return nil
}

// PlayAudio 播放后端下发的音频
func (s *Speaker) PlayAudio(ctx context.Context, data []byte, format string) error {
	if format == "" {
		format = "mp3"
	}
	return s.player.Play(ctx, data, format)
}

func (s *Speaker) fetch(ctx context.Context, text string) ([]byte, string, error) {
	endpoint, err := url.Parse(s.ttsURL)
	if err != nil {
		return nil, "", fmt.Errorf("parse tts url: %w", err)
	}
	query := endpoint.Query()
	query.Set("text", text)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("tts endpoint returned %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read tts audio: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("tts endpoint returned no audio")
	}
	return data, formatFromContentType(resp.Header.Get("Content-Type")), nil
}

func (s *Speaker) synthesize(ctx context.Context, text string) error {
	s.voiceOnce.Do(func() {
		voices, err := s.synth.Voices(ctx)
		if err != nil {
			log.Printf("[playback] list voices: %v", err)
			return
		}
		s.voice = PreferVoice(voices, s.params.Language)
		if s.voice != nil {
			log.Printf("[playback] fallback voice: %s (%s)", s.voice.Name, s.voice.Language)
		}
	})
	return s.synth.Say(ctx, text, s.voice, s.params)
}

func formatFromContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "mp3"
	}
	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/ogg":
		return "ogg"
	case "audio/l16", "audio/pcm":
		return "pcm"
	default:
		return "mp3"
	}
}
