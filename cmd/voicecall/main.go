package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/voicecall/internal/config"
	"github.com/zhouzirui/voicecall/internal/model/call"
	"github.com/zhouzirui/voicecall/internal/service/audio"
	"github.com/zhouzirui/voicecall/internal/service/conversation"
	"github.com/zhouzirui/voicecall/internal/service/playback"
	"github.com/zhouzirui/voicecall/internal/service/transport"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := &printer{w: os.Stdout}

	capture := audio.NewCapture(audio.CaptureOptions{
		Device:        &audio.CommandDevice{Command: cfg.CaptureCommand},
		FrameInterval: cfg.FrameInterval,
		Seed:          uint64(time.Now().UnixNano()),
	})

	player := &playback.CommandPlayer{Path: cfg.PlayerCommand}
	speaker := playback.NewSpeaker(playback.SpeakerOptions{
		TTSURL:      cfg.TTSURL,
		Player:      player,
		Synthesizer: &playback.CommandSynthesizer{Path: cfg.SynthCommand},
	})

	var cues conversation.Cues
	if cfg.Cues {
		cues = playback.NewCuePlayer(player)
	}

	machine := conversation.New(conversation.Config{
		NewTransport: func() conversation.Transport {
			return transport.NewSession(transport.Options{
				BaseURL:          cfg.BaseURL,
				Path:             cfg.WSPath,
				HandshakeTimeout: cfg.ConnectTimeout,
			})
		},
		Capture: capture,
		Speaker: speaker,
		Cues:    cues,
		Notifier: conversation.NotifierFunc(func(n call.Notice) {
			conversation.LogNotifier{}.Notify(n)
			out.Notify(n)
		}),
		Playback:         conversation.PlaybackMode(cfg.Playback),
		ConnectTimeout:   cfg.ConnectTimeout,
		SettleDelay:      cfg.SettleDelay,
		ProcessingWindow: cfg.ProcessingWindow,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := machine.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[call] machine stopped: %v", err)
		}
	}()

	con := &console{
		ctl:   machine,
		probe: capture.Probe,
		level: capture.Latest,
		out:   out,
	}
	go watch(ctx, machine, con)

	log.Printf("[call] agent at %s%s (playback=%s)", cfg.BaseURL, cfg.WSPath, cfg.Playback)

	inputDone := make(chan error, 1)
	go func() { inputDone <- con.run(ctx, os.Stdin) }()

	select {
	case <-ctx.Done():
	case err := <-inputDone:
		if err != nil {
			log.Printf("[call] input error: %v", err)
		}
		stop()
	}
	<-done
}

// watch redraws the transcript whenever the machine reports a change.
func watch(ctx context.Context, machine *conversation.Machine, con *console) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-machine.Changes():
			con.refresh()
		}
	}
}
