package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/voicecall/internal/config"
	speechmodel "github.com/zhouzirui/voicecall/internal/model/speech"
	"github.com/zhouzirui/voicecall/internal/service/playback"
	"github.com/zhouzirui/voicecall/internal/service/speech"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: asr、tts 或 speak")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径")
	text := flag.String("text", "", "TTS / speak 输入文本")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认根据格式自动生成)")
	format := flag.String("format", "", "音频格式 (ASR: 输入格式; TTS: 输出格式)")
	language := flag.String("lang", "", "语言代码，默认使用配置中的语言")
	voice := flag.String("voice", "", "TTS 声音 ID，默认使用配置中的 TTSVoice")
	session := flag.String("session", "", "自定义 sessionID，留空则自动生成")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr", "tts":
	case "speak":
		runSpeak(ctx, *text)
		return
	default:
		flag.Usage()
		log.Fatal("请通过 -mode=asr、-mode=tts 或 -mode=speak 指定测试模式")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
	if !cfg.Speech.Enabled {
		log.Fatal("语音服务未启用，请先配置 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN")
	}

	sessionID := *session
	if sessionID == "" {
		sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}

	svc, err := speech.NewService(cfg.Speech.ProviderConfig)
	if err != nil {
		log.Fatalf("语音服务初始化失败: %v", err)
	}

	switch *mode {
	case "asr":
		runASR(ctx, svc, cfg, sessionID, *audioPath, *format, *language)
	case "tts":
		runTTS(ctx, svc, cfg, sessionID, *text, *voice, *format, *language, *outputPath)
	}
}

func runASR(ctx context.Context, svc *speech.Service, cfg *config.Config, sessionID, audioPath, format, language string) {
	if audioPath == "" {
		log.Fatal("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		log.Fatalf("读取音频文件失败: %v", err)
	}

	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(audioPath)), ".")
		if format == "" {
			format = "wav"
		}
	}

	if language == "" {
		language = cfg.Speech.ASRLanguage
	}

	req := &speechmodel.TranscriptionRequest{
		SessionID: sessionID,
		Audio:     data,
		Format:    format,
		Language:  language,
	}

	log.Printf("开始进行 ASR 测试: session=%s format=%s language=%s bytes=%d", sessionID, format, language, len(data))

	resp, err := svc.Transcribe(ctx, req)
	if err != nil {
		log.Fatalf("ASR 调用失败: %v", err)
	}

	log.Printf("ASR 识别成功: text=%q confidence=%.2f duration=%dms", resp.Text, resp.Confidence, resp.Duration)
}

func runTTS(ctx context.Context, svc *speech.Service, cfg *config.Config, sessionID, text, voice, format, language, outputPath string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("TTS 模式需要通过 -text 提供待合成文本")
	}

	if voice == "" {
		voice = cfg.Speech.TTSVoice
	}

	if language == "" {
		language = cfg.Speech.TTSLanguage
	}

	if format == "" {
		format = "mp3"
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), format)
	}

	req := &speechmodel.SynthesisRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     voice,
		Format:    format,
		Language:  language,
	}

	log.Printf("开始进行 TTS 测试: session=%s voice=%s format=%s", sessionID, voice, format)

	resp, err := svc.Synthesize(ctx, req)
	if err != nil {
		log.Fatalf("TTS 调用失败: %v", err)
	}

	if err := os.WriteFile(outputPath, resp.Audio, 0o644); err != nil {
		log.Fatalf("写入音频文件失败: %v", err)
	}

	log.Printf("TTS 合成成功: 输出文件 %s, 时长=%dms", outputPath, resp.Duration)
}

// runSpeak 走客户端播放链路：先请求 /tts，失败时回退到本机合成器
func runSpeak(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("speak 模式需要通过 -text 提供待朗读文本")
	}

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("客户端配置加载失败: %v", err)
	}

	speaker := playback.NewSpeaker(playback.SpeakerOptions{
		TTSURL:      cfg.TTSURL,
		Player:      &playback.CommandPlayer{Path: cfg.PlayerCommand},
		Synthesizer: &playback.CommandSynthesizer{Path: cfg.SynthCommand},
	})

	log.Printf("开始朗读: tts=%s", cfg.TTSURL)
	start := time.Now()
	if err := speaker.Speak(ctx, text); err != nil {
		log.Fatalf("朗读失败: %v", err)
	}
	log.Printf("朗读完成, 用时 %s", time.Since(start).Round(time.Millisecond))
}
