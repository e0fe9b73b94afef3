package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type frame struct {
	kind int
	data []byte
}

// agentServer upgrades /ws, forwards every received frame to frames and runs
// script once the init message arrived.
func agentServer(t *testing.T, script func(conn *websocket.Conn)) (*httptest.Server, <-chan frame) {
	t.Helper()
	frames := make(chan frame, 16)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frames <- frame{kind: kind, data: data}
		if script != nil {
			script(conn)
		}
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- frame{kind: kind, data: data}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, frames
}

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func nextFrame(t *testing.T, frames <-chan frame) frame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for frame")
		return frame{}
	}
}

func TestSessionConnectSendsInit(t *testing.T) {
	srv, frames := agentServer(t, nil)
	s := NewSession(Options{BaseURL: srv.URL})
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, EventOpened, nextEvent(t, s).Kind)
	require.Equal(t, PhaseOpen, s.Phase())

	init := nextFrame(t, frames)
	require.Equal(t, websocket.TextMessage, init.kind)
	var msg OutboundMessage
	require.NoError(t, json.Unmarshal(init.data, &msg))
	require.Equal(t, TypeInit, msg.Type)
	require.Equal(t, s.ID(), msg.SessionID)
	require.NotEmpty(t, msg.SessionID)
}

func TestSessionSendTextAndAudio(t *testing.T) {
	srv, frames := agentServer(t, nil)
	s := NewSession(Options{BaseURL: srv.URL})
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, EventOpened, nextEvent(t, s).Kind)
	nextFrame(t, frames)

	require.NoError(t, s.SendText("hello"))
	text := nextFrame(t, frames)
	require.JSONEq(t, `{"type":"message","text":"hello"}`, string(text.data))

	require.NoError(t, s.SendAudio([]byte{1, 2, 3}))
	bin := nextFrame(t, frames)
	require.Equal(t, websocket.BinaryMessage, bin.kind)
	require.Equal(t, []byte{1, 2, 3}, bin.data)
}

func TestSessionSendBeforeOpen(t *testing.T) {
	s := NewSession(Options{BaseURL: "http://localhost:1"})
	require.ErrorIs(t, s.SendText("hi"), ErrNotOpen)
	require.ErrorIs(t, s.SendAudio([]byte{1}), ErrNotOpen)
}

func TestSessionInboundEventsInOrder(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte("mp3"))
	srv, _ := agentServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(InboundMessage{Type: TypeTranscription, Text: "hi"})
		_ = conn.WriteJSON(InboundMessage{Type: TypeAgentMessage, Text: "hello there"})
		_ = conn.WriteJSON(InboundMessage{Type: "unknown"})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		_ = conn.WriteJSON(InboundMessage{Type: TypeAudioResponse, Audio: audio, Format: "mp3"})
		_ = conn.WriteJSON(InboundMessage{Type: TypeError, Message: "Could not transcribe audio"})
	})
	s := NewSession(Options{BaseURL: srv.URL})
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))

	require.Equal(t, EventOpened, nextEvent(t, s).Kind)

	ev := nextEvent(t, s)
	require.Equal(t, EventTranscription, ev.Kind)
	require.Equal(t, "hi", ev.Text)

	ev = nextEvent(t, s)
	require.Equal(t, EventAgentMessage, ev.Kind)
	require.Equal(t, "hello there", ev.Text)

	ev = nextEvent(t, s)
	require.Equal(t, EventAudioResponse, ev.Kind)
	require.Equal(t, []byte("mp3"), ev.Audio)
	require.Equal(t, "mp3", ev.Format)

	ev = nextEvent(t, s)
	require.Equal(t, EventServerError, ev.Kind)
	require.Equal(t, "Could not transcribe audio", ev.Text)
}

func TestSessionHandshakeTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-block
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(block) })

	s := NewSession(Options{BaseURL: srv.URL, HandshakeTimeout: 100 * time.Millisecond})
	require.NoError(t, s.Connect(context.Background()))

	ev := nextEvent(t, s)
	require.Equal(t, EventFailed, ev.Kind)
	require.ErrorIs(t, ev.Err, ErrHandshakeTimeout)

	_, ok := <-s.Events()
	require.False(t, ok)
}

func TestSessionConnectRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	s := NewSession(Options{BaseURL: srv.URL})
	require.NoError(t, s.Connect(context.Background()))

	ev := nextEvent(t, s)
	require.Equal(t, EventFailed, ev.Kind)
	require.NotErrorIs(t, ev.Err, ErrHandshakeTimeout)
	srv.Close()
}

func TestSessionServerCloseIsUnexpected(t *testing.T) {
	srv, _ := agentServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
	})
	s := NewSession(Options{BaseURL: srv.URL})
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, EventOpened, nextEvent(t, s).Kind)

	ev := nextEvent(t, s)
	require.Equal(t, EventClosed, ev.Kind)
	require.False(t, ev.Expected)
	require.Error(t, ev.Err)
}

func TestSessionCloseIdempotent(t *testing.T) {
	srv, _ := agentServer(t, nil)
	s := NewSession(Options{BaseURL: srv.URL})
	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, EventOpened, nextEvent(t, s).Kind)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.SendText("late"), ErrNotOpen)

	for ev := range s.Events() {
		require.Equal(t, EventClosed, ev.Kind)
		require.True(t, ev.Expected)
	}
	require.Equal(t, PhaseClosed, s.Phase())
	require.ErrorIs(t, s.Connect(context.Background()), ErrAlreadyConnected)
}

func TestSessionCloseBeforeConnect(t *testing.T) {
	s := NewSession(Options{BaseURL: "http://localhost:1"})
	require.NoError(t, s.Close())
	_, ok := <-s.Events()
	require.False(t, ok)
}

func TestWebSocketURL(t *testing.T) {
	cases := []struct {
		base, path, want string
	}{
		{"http://localhost:8000", "/ws", "ws://localhost:8000/ws"},
		{"https://agent.example.com/api/", "/ws", "wss://agent.example.com/api/ws"},
		{"ws://127.0.0.1:9000", "ws", "ws://127.0.0.1:9000/ws"},
		{"localhost:8000?x=1", "/ws", "ws://localhost:8000/ws"},
	}
	for _, tc := range cases {
		got, err := WebSocketURL(tc.base, tc.path)
		require.NoError(t, err, tc.base)
		require.Equal(t, tc.want, got)
	}

	for _, bad := range []string{"", "ftp://host", "http://"} {
		_, err := WebSocketURL(bad, "/ws")
		require.Error(t, err, bad)
	}
}
