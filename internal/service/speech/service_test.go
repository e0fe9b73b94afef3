package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voicecall/internal/model/speech"
)

// volcServer 模拟火山引擎的 ASR / TTS WebSocket 端点。
type volcServer struct {
	upgrader websocket.Upgrader

	mu        sync.Mutex
	resources []string
	audio     []byte
	request   map[string]any
	seqs      []int32
	ttsReqs   []ttsRequest

	// ttsHandler 返回要发回客户端的帧，nil 表示使用默认成功流程
	ttsHandler func(resource string, req ttsRequest) []*frame
}

func (vs *volcServer) setTTSHandler(h func(resource string, req ttsRequest) []*frame) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.ttsHandler = h
}

func newVolcServer(t *testing.T) (*volcServer, *httptest.Server) {
	vs := &volcServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/asr", vs.handleASR)
	mux.HandleFunc("/tts", vs.handleTTS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return vs, srv
}

func (vs *volcServer) record(r *http.Request) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.resources = append(vs.resources, r.Header.Get("X-Api-Resource-Id"))
}

func (vs *volcServer) handleASR(w http.ResponseWriter, r *http.Request) {
	vs.record(r)
	if r.Header.Get("X-Api-App-Key") != "app" || r.Header.Get("X-Api-Access-Key") != "token" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := vs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	first, err := parseFrame(data)
	if err != nil {
		return
	}
	body, _ := first.body()
	var req map[string]any
	_ = json.Unmarshal(body, &req)

	var audio bytes.Buffer
	var seqs []int32
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := parseFrame(data)
		if err != nil {
			return
		}
		chunk, _ := f.body()
		audio.Write(chunk)
		seqs = append(seqs, f.sequence)
		if f.last() {
			break
		}
	}

	vs.mu.Lock()
	vs.request = req
	vs.audio = audio.Bytes()
	vs.seqs = seqs
	vs.mu.Unlock()

	partial, _ := json.Marshal(map[string]any{"code": 20000000, "result": map[string]any{"text": "hello"}})
	final, _ := json.Marshal(map[string]any{
		"result":     map[string]any{"utterances": []map[string]any{{"text": "hello"}, {"text": "there"}}},
		"audio_info": map[string]any{"duration": 1200},
	})
	packedFinal, _ := gzipBytes(final)

	_ = conn.WriteMessage(websocket.BinaryMessage, (&frame{kind: fullServerResponse, serial: serialJSON, payload: partial}).marshal())
	_ = conn.WriteMessage(websocket.BinaryMessage, (&frame{
		kind: fullServerResponse, flags: flagNegativeSeq, sequence: -3,
		serial: serialJSON, compress: compressGzip, payload: packedFinal,
	}).marshal())
}

func (vs *volcServer) handleTTS(w http.ResponseWriter, r *http.Request) {
	vs.record(r)
	resource := r.Header.Get("X-Api-Resource-Id")
	conn, err := vs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	f, err := parseFrame(data)
	if err != nil {
		return
	}
	var req ttsRequest
	_ = json.Unmarshal(f.payload, &req)

	vs.mu.Lock()
	vs.ttsReqs = append(vs.ttsReqs, req)
	handler := vs.ttsHandler
	vs.mu.Unlock()

	frames := []*frame{
		{kind: audioOnlyResponse, payload: []byte("ID3")},
		{kind: audioOnlyResponse, payload: []byte("-mp3")},
		{kind: fullServerResponse, flags: flagWithEvent, event: eventSessionFinished, sessionID: req.User.UID,
			serial: serialJSON, payload: []byte(`{"code":3000,"reqid":"req-1","addition":{"duration":"850"}}`)},
	}
	if handler != nil {
		frames = handler(resource, req)
	}
	for _, out := range frames {
		if err := conn.WriteMessage(websocket.BinaryMessage, out.marshal()); err != nil {
			return
		}
	}
	// 等待客户端关闭
	_, _, _ = conn.ReadMessage()
}

func newTestService(t *testing.T, srv *httptest.Server) *Service {
	t.Helper()
	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	svc, err := NewService(speech.ProviderConfig{
		AppID:       "app",
		AccessToken: "token",
		ASRLanguage: "en-US",
		TTSLanguage: "en-US",
		TTSSpeed:    1.2,
		Timeout:     5 * time.Second,
	}, WithEndpoints(base+"/asr", base+"/tts"), WithChunkPacing(0))
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresCredentials(t *testing.T) {
	_, err := NewService(speech.ProviderConfig{AppID: "app"})
	require.Error(t, err)
}

func TestTranscribe(t *testing.T) {
	vs, srv := newVolcServer(t)
	svc := newTestService(t, srv)

	audio := bytes.Repeat([]byte{7}, asrChunkSize*2+100)
	out, err := svc.Transcribe(context.Background(), &speech.TranscriptionRequest{SessionID: "s-1", Audio: audio})
	require.NoError(t, err)
	require.Equal(t, "hello there", out.Text)
	require.Equal(t, int64(1200), out.Duration)
	require.Equal(t, "s-1", out.SessionID)
	require.InDelta(t, 0.95, out.Confidence, 1e-9)

	vs.mu.Lock()
	defer vs.mu.Unlock()
	require.Equal(t, audio, vs.audio)
	require.Equal(t, []int32{2, 3, -4}, vs.seqs)
	require.Equal(t, []string{asrResourceDuration}, vs.resources)
	audioReq := vs.request["audio"].(map[string]any)
	require.Equal(t, "wav", audioReq["format"])
	require.Equal(t, "en-US", audioReq["language"])
}

func TestTranscribeRejectsEmptyAudio(t *testing.T) {
	_, srv := newVolcServer(t)
	svc := newTestService(t, srv)

	_, err := svc.Transcribe(context.Background(), &speech.TranscriptionRequest{SessionID: "s-1"})
	require.ErrorIs(t, err, ErrEmptyAudio)
}

func TestTranscribeServerError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.BinaryMessage, (&frame{kind: errorResponse, code: 45000001, payload: []byte("bad audio")}).marshal())
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	svc, err := NewService(speech.ProviderConfig{AppID: "app", AccessToken: "token"}, WithEndpoints(base, base), WithChunkPacing(time.Second))
	require.NoError(t, err)

	_, err = svc.Transcribe(context.Background(), &speech.TranscriptionRequest{Audio: bytes.Repeat([]byte{1}, asrChunkSize*3)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad audio")
}

func TestSynthesize(t *testing.T) {
	vs, srv := newVolcServer(t)
	svc := newTestService(t, srv)

	out, err := svc.Synthesize(context.Background(), &speech.SynthesisRequest{SessionID: "s-1", Text: "Hi there", Format: "wav"})
	require.NoError(t, err)
	require.Equal(t, "ID3-mp3", string(out.Audio))
	require.Equal(t, "mp3", out.Format)
	require.Equal(t, "req-1", out.RequestID)
	require.Equal(t, int64(850), out.Duration)
	require.Equal(t, "audio/mpeg", out.MIMEType())

	vs.mu.Lock()
	defer vs.mu.Unlock()
	require.Len(t, vs.ttsReqs, 1)
	req := vs.ttsReqs[0]
	require.Equal(t, "s-1", req.User.UID)
	require.Equal(t, "Hi there", req.ReqParams.Text)
	require.Equal(t, DefaultVoice, req.ReqParams.Speaker)
	require.Equal(t, "mp3", req.ReqParams.AudioParams.Format)
	require.Equal(t, 24000, req.ReqParams.AudioParams.SampleRate)
	require.InDelta(t, 1.2, req.ReqParams.AudioParams.SpeedRatio, 1e-6)
	require.Equal(t, "en-US", req.ReqParams.Language)
}

func TestSynthesizeFallsBackOnResourceMismatch(t *testing.T) {
	vs, srv := newVolcServer(t)
	svc := newTestService(t, srv)

	vs.setTTSHandler(func(resource string, _ ttsRequest) []*frame {
		if resource == ttsResourceSeed {
			return []*frame{{kind: errorResponse, code: 45000000, payload: []byte("resource ID is mismatched with speaker related resource")}}
		}
		return []*frame{
			{kind: fullServerResponse, flags: flagNegativeSeq, sequence: -1, serial: serialJSON,
				payload: []byte(`{"code":0,"data":"UklGRg=="}`)},
		}
	})

	out, err := svc.Synthesize(context.Background(), &speech.SynthesisRequest{Text: "Hello"})
	require.NoError(t, err)
	require.Equal(t, "RIFF", string(out.Audio))
	require.NotEmpty(t, out.RequestID)

	vs.mu.Lock()
	defer vs.mu.Unlock()
	require.Equal(t, []string{ttsResourceSeed, ttsResourceDefault}, vs.resources)
	require.Len(t, vs.ttsReqs, 2)
	for _, req := range vs.ttsReqs {
		require.Equal(t, DefaultVoice, req.ReqParams.Speaker)
	}
}

func TestSynthesizeAPIError(t *testing.T) {
	vs, srv := newVolcServer(t)
	svc := newTestService(t, srv)

	vs.setTTSHandler(func(string, ttsRequest) []*frame {
		return []*frame{{kind: fullServerResponse, flags: flagWithEvent, event: eventSessionFinished,
			serial: serialJSON, payload: []byte(`{"code":40000,"message":"quota exceeded"}`)}}
	})

	_, err := svc.Synthesize(context.Background(), &speech.SynthesisRequest{Text: "Hello"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "quota exceeded")

	vs.mu.Lock()
	defer vs.mu.Unlock()
	require.Len(t, vs.resources, 1)
}

func TestSynthesizeRejectsBlankText(t *testing.T) {
	_, srv := newVolcServer(t)
	svc := newTestService(t, srv)

	_, err := svc.Synthesize(context.Background(), &speech.SynthesisRequest{Text: "  "})
	require.ErrorIs(t, err, ErrEmptyText)
}
