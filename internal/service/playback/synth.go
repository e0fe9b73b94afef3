package playback

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// ErrSynthesisUnsupported 系统没有安装语音合成器
var ErrSynthesisUnsupported = errors.New("speech synthesis not supported on this system")

// Voice 已安装的一个音色
type Voice struct {
	Name     string
	Language string
	// Gender "F"、"M"，未知为空
	Gender string
}

// VoiceParams 对应浏览器语音合成的参数，1.0 为正常值
type VoiceParams struct {
	Language string
	Rate     float64
	Pitch    float64
	Volume   float64
}

// DefaultVoiceParams 固定的兜底音色：en-US，语速音调音量均为默认
var DefaultVoiceParams = VoiceParams{Language: "en-US", Rate: 1.0, Pitch: 1.0, Volume: 1.0}

// Synthesizer 本地语音合成
type Synthesizer interface {
	Voices(ctx context.Context) ([]Voice, error)
	Say(ctx context.Context, text string, voice *Voice, params VoiceParams) error
}

// DefaultSynthCommand 选择当前平台的合成命令
func DefaultSynthCommand() string {
	if runtime.GOOS == "darwin" {
		return "say"
	}
	return "espeak-ng"
}

// CommandSynthesizer drives espeak-ng (or espeak) and macOS say.
type CommandSynthesizer struct {
	Path string

	lookOnce sync.Once
	resolved string
	lookErr  error
}

func (s *CommandSynthesizer) binary() (string, error) {
	s.lookOnce.Do(func() {
		path := strings.TrimSpace(s.Path)
		if path == "" {
			path = DefaultSynthCommand()
		}
		s.resolved, s.lookErr = exec.LookPath(path)
		if s.lookErr != nil {
			s.lookErr = fmt.Errorf("%w: %s: %v", ErrSynthesisUnsupported, path, s.lookErr)
		}
	})
	return s.resolved, s.lookErr
}

func (s *CommandSynthesizer) isSay() bool {
	return filepath.Base(s.resolved) == "say"
}

// Voices 列出已安装的音色
func (s *CommandSynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	bin, err := s.binary()
	if err != nil {
		return nil, err
	}
	var out []byte
	if s.isSay() {
		out, err = exec.CommandContext(ctx, bin, "-v", "?").Output()
		if err != nil {
			return nil, fmt.Errorf("list voices: %w", err)
		}
		return parseSayVoices(out), nil
	}
	out, err = exec.CommandContext(ctx, bin, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return parseEspeakVoices(out), nil
}

// Say 朗读 text，合成进程退出后返回
func (s *CommandSynthesizer) Say(ctx context.Context, text string, voice *Voice, params VoiceParams) error {
	bin, err := s.binary()
	if err != nil {
		return err
	}
	args := synthArgs(s.isSay(), voice, params)
	args = append(args, text)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("synthesize: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func synthArgs(say bool, voice *Voice, params VoiceParams) []string {
	rate := params.Rate
	if rate <= 0 {
		rate = 1
	}
	if say {
		args := []string{"-r", fmt.Sprintf("%d", int(175*rate))}
		if voice != nil {
			args = append(args, "-v", voice.Name)
		}
		return args
	}

	pitch, volume := params.Pitch, params.Volume
	if pitch <= 0 {
		pitch = 1
	}
	if volume <= 0 {
		volume = 1
	}
	name := strings.ToLower(params.Language)
	if voice != nil {
		name = voice.Name
		if voice.Gender != "F" && !strings.Contains(name, "+") {
			name += "+f3"
		}
	} else if name != "" {
		name += "+f3"
	}
	args := []string{
		"-s", fmt.Sprintf("%d", int(175*rate)),
		"-p", fmt.Sprintf("%d", int(50*pitch)),
		"-a", fmt.Sprintf("%d", int(100*volume)),
	}
	if name != "" {
		args = append(args, "-v", name)
	}
	return args
}

// PreferVoice 优先选该语言的女声，没有就选该语言任意音色；返回 nil 表示用引擎默认
func PreferVoice(voices []Voice, language string) *Voice {
	lang := normalizeLang(language)
	var sameLang *Voice
	for i := range voices {
		v := &voices[i]
		name := strings.ToLower(v.Name)
		if strings.Contains(name, "female") || strings.Contains(name, "samantha") {
			return v
		}
		if lang != "" && normalizeLang(v.Language) == lang {
			if v.Gender == "F" {
				return v
			}
			if sameLang == nil {
				sameLang = v
			}
		}
	}
	return sameLang
}

func normalizeLang(lang string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(lang), "_", "-"))
}

// parseEspeakVoices 解析 `espeak-ng --voices` 的输出：
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)
func parseEspeakVoices(out []byte) []Voice {
	var voices []Voice
	scanner := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}
		gender := ""
		if parts := strings.SplitN(fields[2], "/", 2); len(parts) == 2 {
			gender = strings.ToUpper(parts[1])
		}
		voices = append(voices, Voice{
			// -v 接受的是 File 列
			Name:     fields[4],
			Language: fields[1],
			Gender:   gender,
		})
	}
	return voices
}

// parseSayVoices 解析 `say -v ?` 的输出：
//
//	Samantha            en_US    # Hello, my name is Samantha.
func parseSayVoices(out []byte) []Voice {
	var voices []Voice
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		voices = append(voices, Voice{
			Name:     strings.Join(fields[:len(fields)-1], " "),
			Language: fields[len(fields)-1],
		})
	}
	return voices
}
