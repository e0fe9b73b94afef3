package speech

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voicecall/internal/model/persona"
	"github.com/zhouzirui/voicecall/internal/model/speech"
	"github.com/zhouzirui/voicecall/internal/service/agent"
	"github.com/zhouzirui/voicecall/internal/service/session"
	"github.com/zhouzirui/voicecall/pkg/utils"
)

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	Transcribe(ctx context.Context, req *speech.TranscriptionRequest) (*speech.Transcript, error)
	Synthesize(ctx context.Context, req *speech.SynthesisRequest) (*speech.Synthesis, error)
}

// Handler 语音代理的 HTTP / WebSocket 处理器
type Handler struct {
	speechSvc SpeechService
	sessions  *session.Registry
	responder agent.Responder
	persona   persona.Persona
	upgrader  websocket.Upgrader
}

// New 创建处理器；speechSvc 为 nil 时只支持文字对话。
func New(speechSvc SpeechService, sessions *session.Registry, responder agent.Responder, p persona.Persona) *Handler {
	return &Handler{
		speechSvc: speechSvc,
		sessions:  sessions,
		responder: responder,
		persona:   p,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
	r.Get("/tts", h.handleTTS)
}

// handleTTS 把 text 查询参数合成为 mp3
func (h *Handler) handleTTS(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("text"))
	if text == "" {
		utils.RespondError(w, http.StatusBadRequest, "text query parameter is required")
		return
	}
	if h.speechSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech service unavailable")
		return
	}

	out, err := h.speechSvc.Synthesize(r.Context(), &speech.SynthesisRequest{
		Text:   text,
		Voice:  h.persona.VoiceID,
		Format: "mp3",
	})
	if err != nil {
		log.Printf("[tts] synthesis failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "TTS error: "+err.Error())
		return
	}
	if len(out.Audio) == 0 {
		utils.RespondError(w, http.StatusInternalServerError, "TTS error: empty audio")
		return
	}

	utils.RespondAudio(w, out.MIMEType(), "speech."+fileExtension(out.Format), out.Audio)
}

func fileExtension(format string) string {
	switch format {
	case "ogg_opus":
		return "ogg"
	case "":
		return "mp3"
	default:
		return format
	}
}
