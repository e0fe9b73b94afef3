package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/voicecall/internal/config"
	"github.com/zhouzirui/voicecall/internal/handler"
	speechhandler "github.com/zhouzirui/voicecall/internal/handler/speech"
	"github.com/zhouzirui/voicecall/internal/model/persona"
	"github.com/zhouzirui/voicecall/internal/service/agent"
	"github.com/zhouzirui/voicecall/internal/service/session"
	"github.com/zhouzirui/voicecall/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	p := cfg.Agent.Persona()

	sessions := session.NewRegistry(cfg.Session.IdleTimeout)
	go sessions.Run(ctx, cfg.Session.SweepInterval)

	responder := newResponder(ctx, cfg.AI, p)

	// 接口变量保持 nil，避免把 nil 指针包装成非 nil 接口
	var speechSvc speechhandler.SpeechService
	if cfg.Speech.Enabled {
		svc, err := speech.NewService(cfg.Speech.ProviderConfig)
		if err != nil {
			log.Printf("warning: failed to initialize speech service: %v", err)
		} else {
			speechSvc = svc
			log.Println("Speech service initialized successfully")
		}
	} else {
		log.Println("语音服务凭证未配置，跳过语音功能初始化")
	}

	router := handler.NewRouter(p, sessions, responder, speechSvc)

	startServer(ctx, cfg.Server, router)
}

func newResponder(ctx context.Context, aiCfg config.AIConfig, p persona.Persona) agent.Responder {
	if !aiCfg.Enabled() {
		log.Println("Ark 凭证未配置，使用预设回复")
		return agent.NewCannedResponder()
	}

	chatModel, err := aiCfg.NewChatModel(ctx)
	if err != nil {
		log.Printf("warning: failed to initialize chat model: %v", err)
		log.Println("continuing with canned replies - 请检查 Ark 模型相关环境变量")
		return agent.NewCannedResponder()
	}

	responder, err := agent.NewChainResponder(ctx, chatModel, p)
	if err != nil {
		log.Printf("warning: failed to compile agent chain: %v", err)
		return agent.NewCannedResponder()
	}
	log.Println("AI service initialized successfully")
	return responder
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("voice agent listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
