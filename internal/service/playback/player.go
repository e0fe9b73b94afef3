package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/zhouzirui/voicecall/internal/service/audio"
)

// Player 播放一段编码音频，播完返回
type Player interface {
	Play(ctx context.Context, data []byte, format string) error
}

// CommandPlayer 通过 stdin 把音频交给 ffplay 播放
type CommandPlayer struct {
	// ffplay 路径，默认 "ffplay"
	Path string
	// Volume ffplay 初始音量 0..100
	Volume int
}

func (p *CommandPlayer) args(format string) []string {
	volume := p.Volume
	if volume <= 0 || volume > 100 {
		volume = 100
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-autoexit",
		"-volume", fmt.Sprintf("%d", volume),
	}
	switch strings.ToLower(format) {
	case "pcm", "s16le":
		args = append(args, "-f", "s16le", "-ch_layout", "mono", "-ar", fmt.Sprintf("%d", audio.SampleRate))
	case "mp3", "wav", "ogg":
		args = append(args, "-f", strings.ToLower(format))
	}
	return append(args, "-i", "-")
}

// Play 阻塞到 ffplay 退出，取消 ctx 会杀掉进程
func (p *CommandPlayer) Play(ctx context.Context, data []byte, format string) error {
	path := strings.TrimSpace(p.Path)
	if path == "" {
		path = "ffplay"
	}
	if len(data) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, path, p.args(format)...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			log.Printf("[playback] player: %s", detail)
		}
		return fmt.Errorf("play %s clip: %w", format, err)
	}
	return nil
}
