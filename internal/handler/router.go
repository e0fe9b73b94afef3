package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/voicecall/internal/handler/speech"
	middlewarePkg "github.com/zhouzirui/voicecall/internal/middleware"
	"github.com/zhouzirui/voicecall/internal/model/persona"
	"github.com/zhouzirui/voicecall/internal/service/agent"
	"github.com/zhouzirui/voicecall/internal/service/session"
	"github.com/zhouzirui/voicecall/pkg/utils"
)

// NewRouter wires HTTP routes to core services. speechSvc may be nil.
func NewRouter(p persona.Persona, sessions *session.Registry, responder agent.Responder, speechSvc speech.SpeechService) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	speech.New(speechSvc, sessions, responder, p).RegisterRoutes(r)

	return r
}
