package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrNotOpen 连接未建立时发送
	ErrNotOpen = errors.New("transport connection is not open")
	// ErrHandshakeTimeout 连接超时未建立
	ErrHandshakeTimeout = errors.New("transport handshake timed out")
	// ErrAlreadyConnected 重复调用 Connect
	ErrAlreadyConnected = errors.New("transport session already connected")
)

const (
	// DefaultHandshakeTimeout 从 Connect 到连接建立的最长等待
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultPath             = "/ws"

	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Phase 连接阶段
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseOpen
	PhaseClosed
)

// Options Session 配置
type Options struct {
	BaseURL          string
	Path             string
	HandshakeTimeout time.Duration
	// SessionID 为空时自动生成
	SessionID string
	Dialer    *websocket.Dialer
}

// Session 持有一条到后端的 WebSocket 连接。
// 入站事件按接收顺序逐个投递到同一个 channel。
type Session struct {
	id      string
	opts    Options
	events  chan Event
	abandon chan struct{}

	mu      sync.Mutex
	writeMu sync.Mutex
	phase   Phase
	conn    *websocket.Conn
	cancel  context.CancelFunc
	closing bool
	once    sync.Once
}

// NewSession 创建未连接的会话并生成新的 session id
func NewSession(opts Options) *Session {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		id:      id,
		opts:    opts,
		events:  make(chan Event, 64),
		abandon: make(chan struct{}),
	}
}

// ID init 消息中携带的会话标识
func (s *Session) ID() string { return s.id }

// Events 入站事件流，在最后一个 EventClosed 或 EventFailed 之后关闭
func (s *Session) Events() <-chan Event { return s.events }

// Phase 当前连接阶段
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Connect 在后台拨号，失败（包括握手超时）以 EventFailed 送达。
// 只有地址非法或重复调用会直接返回错误。
func (s *Session) Connect(ctx context.Context) error {
	target, err := WebSocketURL(s.opts.BaseURL, s.opts.Path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.phase = PhaseConnecting
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(dialCtx, cancel, target)
	return nil
}

func (s *Session) run(dialCtx context.Context, cancel context.CancelFunc, target string) {
	defer s.finish()

	dialer := s.opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: s.opts.HandshakeTimeout,
		}
	}

	log.Printf("[transport] dialing %s", target)
	conn, _, err := dialer.DialContext(dialCtx, target, nil)
	timedOut := errors.Is(dialCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if s.isClosing() {
			s.emit(Event{Kind: EventClosed, Expected: true})
			return
		}
		if timedOut || isTimeout(err) {
			err = fmt.Errorf("%w after %s: %v", ErrHandshakeTimeout, s.opts.HandshakeTimeout, err)
		} else {
			err = fmt.Errorf("dial %s: %w", target, err)
		}
		log.Printf("[transport] connect failed: %v", err)
		s.emit(Event{Kind: EventFailed, Err: err})
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		s.emit(Event{Kind: EventClosed, Expected: true})
		return
	}
	s.conn = conn
	s.mu.Unlock()

	if err := s.writeJSON(OutboundMessage{Type: TypeInit, SessionID: s.id}); err != nil {
		_ = conn.Close()
		if s.isClosing() {
			s.emit(Event{Kind: EventClosed, Expected: true})
			return
		}
		s.emit(Event{Kind: EventFailed, Err: fmt.Errorf("send init: %w", err)})
		return
	}

	s.mu.Lock()
	s.phase = PhaseOpen
	s.mu.Unlock()
	log.Printf("[transport] connected, session=%s", s.id)
	s.emit(Event{Kind: EventOpened})

	stopPing := make(chan struct{})
	go s.pingLoop(conn, stopPing)
	err = s.readLoop(conn)
	close(stopPing)

	if s.isClosing() {
		s.emit(Event{Kind: EventClosed, Expected: true})
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		log.Printf("[transport] connection closed by peer: %v", err)
		s.emit(Event{Kind: EventClosed, Err: err})
		return
	}
	log.Printf("[transport] connection lost: %v", err)
	s.emit(Event{Kind: EventFailed, Err: fmt.Errorf("connection lost: %w", err)})
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			log.Printf("[transport] ignoring binary frame of %d bytes", len(data))
			continue
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[transport] invalid message: %v", err)
			continue
		}

		switch msg.Type {
		case TypeAgentMessage:
			s.emit(Event{Kind: EventAgentMessage, Text: msg.Text})
		case TypeTranscription:
			s.emit(Event{Kind: EventTranscription, Text: msg.Text})
		case TypeError:
			text := msg.Message
			if text == "" {
				text = msg.Text
			}
			s.emit(Event{Kind: EventServerError, Text: text})
		case TypeAudioResponse:
			audio, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				log.Printf("[transport] audio_response decode failed: %v", err)
				continue
			}
			s.emit(Event{Kind: EventAudioResponse, Audio: audio, Format: msg.Format})
		default:
			log.Printf("[transport] unknown message type: %s", msg.Type)
		}
	}
}

func (s *Session) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// SendText 发送文字消息
func (s *Session) SendText(text string) error {
	if !s.isOpen() {
		return ErrNotOpen
	}
	return s.writeJSON(OutboundMessage{Type: TypeMessage, Text: text})
}

// SendAudio 把录音作为一个二进制帧发送
func (s *Session) SendAudio(payload []byte) error {
	if !s.isOpen() {
		return ErrNotOpen
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn := s.currentConn()
	if conn == nil {
		return ErrNotOpen
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.BinaryMessage, payload)
}

// Close 结束会话，可重复调用，Connect 之前调用也安全
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	conn := s.conn
	cancel := s.cancel
	idle := s.phase == PhaseIdle
	s.phase = PhaseClosed
	s.mu.Unlock()

	close(s.abandon)
	if cancel != nil {
		cancel()
	}
	if idle {
		s.finish()
		return nil
	}
	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return conn.Close()
}

func (s *Session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn := s.currentConn()
	if conn == nil {
		return ErrNotOpen
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// emit 投递事件；Close 之后尽力而为
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.abandon:
		select {
		case s.events <- ev:
		default:
		}
	}
}

func (s *Session) finish() {
	s.once.Do(func() {
		s.mu.Lock()
		s.phase = PhaseClosed
		s.conn = nil
		s.mu.Unlock()
		close(s.events)
	})
}

func (s *Session) currentConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == PhaseOpen && !s.closing
}

func (s *Session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// WebSocketURL 把 http(s) 或 ws(s) 地址转换成 WebSocket 端点，保留原路径并追加 path
func WebSocketURL(base, path string) (string, error) {
	raw := strings.TrimSpace(base)
	if raw == "" {
		return "", fmt.Errorf("empty base url")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", base)
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
