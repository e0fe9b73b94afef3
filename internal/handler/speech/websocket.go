package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voicecall/internal/model/chat"
	"github.com/zhouzirui/voicecall/internal/model/speech"
	"github.com/zhouzirui/voicecall/internal/service/agent"
	"github.com/zhouzirui/voicecall/internal/service/transport"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second

	msgInvalidJSON     = "Invalid JSON format"
	msgTranscribeAudio = "Could not transcribe audio"
)

// clientMessage 是客户端发来的 JSON 控制消息
type clientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// serverMessage 是发往客户端的事件
type serverMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
	Audio   string `json:"audio,omitempty"`
	Format  string `json:"format,omitempty"`
}

// wsConn 串行化写操作，ping 循环与消息处理共用同一连接
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msg serverMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteJSON(msg); err != nil {
		log.Printf("[websocket] write %s failed: %v", msg.Type, err)
	}
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleWebSocket 处理一次语音通话连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	conn := &wsConn{Conn: raw}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sessionID := h.sessions.Create(ctx, h.persona.Welcome).ID
	defer func() {
		h.sessions.Remove(context.Background(), sessionID)
		log.Printf("[websocket] client disconnected: %s", sessionID)
	}()
	log.Printf("[websocket] new connection for session: %s", sessionID)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go h.pingLoop(ctx, conn)

	if h.persona.Welcome != "" {
		conn.send(serverMessage{Type: transport.TypeAgentMessage, Text: h.persona.Welcome})
		h.sendAudio(ctx, conn, sessionID, h.persona.Welcome)
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		_ = h.sessions.Touch(ctx, sessionID)

		switch kind {
		case websocket.TextMessage:
			sessionID = h.handleText(ctx, conn, sessionID, data)
		case websocket.BinaryMessage:
			h.handleAudio(ctx, conn, sessionID, data)
		}
	}
}

// handleText 处理 JSON 消息，返回（可能被 init 重新绑定的）会话 ID。
func (h *Handler) handleText(ctx context.Context, conn *wsConn, sessionID string, data []byte) string {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[websocket] failed to parse JSON message: %v", err)
		conn.send(serverMessage{Type: transport.TypeError, Message: msgInvalidJSON})
		return sessionID
	}

	switch msg.Type {
	case transport.TypeInit:
		if msg.SessionID == "" || msg.SessionID == sessionID {
			return sessionID
		}
		if _, err := h.sessions.Rebind(ctx, sessionID, msg.SessionID); err != nil {
			log.Printf("[websocket] rebind %s -> %s failed: %v", sessionID, msg.SessionID, err)
			return sessionID
		}
		log.Printf("[websocket] session %s rebound to client id %s", sessionID, msg.SessionID)
		return msg.SessionID

	case transport.TypeMessage:
		if text := strings.TrimSpace(msg.Text); text != "" {
			h.reply(ctx, conn, sessionID, text)
		}

	default:
		log.Printf("[websocket] ignoring message type %q", msg.Type)
	}
	return sessionID
}

// handleAudio 识别一段完整录音并回复
func (h *Handler) handleAudio(ctx context.Context, conn *wsConn, sessionID string, audio []byte) {
	text := ""
	if h.speechSvc != nil && len(audio) > 0 {
		format := sniffAudioFormat(audio)
		log.Printf("[websocket] processing ASR audio session=%s format=%s bytes=%d", sessionID, format, len(audio))
		out, err := h.speechSvc.Transcribe(ctx, &speech.TranscriptionRequest{
			SessionID: sessionID,
			Audio:     audio,
			Format:    format,
		})
		if err != nil {
			log.Printf("[websocket] ASR failed session=%s: %v", sessionID, err)
		} else {
			text = strings.TrimSpace(out.Text)
		}
	}

	if text == "" {
		conn.send(serverMessage{Type: transport.TypeError, Message: msgTranscribeAudio})
		return
	}

	conn.send(serverMessage{Type: transport.TypeTranscription, Text: text})
	h.reply(ctx, conn, sessionID, text)
}

func (h *Handler) reply(ctx context.Context, conn *wsConn, sessionID, userText string) {
	history, err := h.sessions.LoadTranscript(ctx, sessionID)
	if err != nil {
		log.Printf("[websocket] load transcript failed: %v", err)
	}
	if err := h.sessions.SaveMessage(ctx, chat.Message{SessionID: sessionID, Sender: chat.SenderUser, Content: userText}); err != nil {
		log.Printf("[websocket] save user message failed: %v", err)
	}

	response := agent.Respond(ctx, h.responder, sessionID, history, userText)

	if err := h.sessions.SaveMessage(ctx, chat.Message{SessionID: sessionID, Sender: chat.SenderAssistant, Content: response}); err != nil {
		log.Printf("[websocket] save assistant message failed: %v", err)
	}

	conn.send(serverMessage{Type: transport.TypeAgentMessage, Text: response})
	h.sendAudio(ctx, conn, sessionID, response)
}

// sendAudio 合成回复语音；失败只记录日志，文字回复已送达
func (h *Handler) sendAudio(ctx context.Context, conn *wsConn, sessionID, text string) {
	if h.speechSvc == nil {
		return
	}

	out, err := h.speechSvc.Synthesize(ctx, &speech.SynthesisRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     h.persona.VoiceID,
		Format:    "mp3",
	})
	if err != nil {
		log.Printf("[websocket] failed to generate audio: %v", err)
		return
	}
	if len(out.Audio) == 0 {
		log.Printf("[websocket] TTS returned empty audio session=%s", sessionID)
		return
	}

	conn.send(serverMessage{
		Type:   transport.TypeAudioResponse,
		Audio:  base64.StdEncoding.EncodeToString(out.Audio),
		Format: out.Format,
	})
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}

func sniffAudioFormat(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return "wav"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "ogg"
	case bytes.HasPrefix(data, []byte("ID3")), len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	default:
		return "pcm"
	}
}
