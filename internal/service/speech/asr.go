package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voicecall/internal/model/speech"
)

const (
	asrResourceDuration   = "volc.bigasr.sauc.duration"   // 小时版
	asrResourceConcurrent = "volc.bigasr.sauc.concurrent" // 并发版
)

// asrClient 火山引擎大模型 ASR（流式输入模式）
type asrClient struct {
	url        string
	dialer     *websocket.Dialer
	creds      credentials
	concurrent bool
	pacing     time.Duration
}

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info"`
}

func buildASRRequest(req *speech.TranscriptionRequest) *asrRequest {
	r := &asrRequest{}
	r.User.UID = req.SessionID
	r.Audio.Format = req.Format
	r.Audio.Language = req.Language
	r.Audio.Codec = "raw"
	r.Audio.Rate = 16000
	r.Audio.Bits = 16
	r.Audio.Channel = 1
	r.Request.ModelName = "bigmodel"
	r.Request.EnableITN = true
	r.Request.EnablePunc = true
	r.Request.ShowUtterances = true
	r.Request.ResultType = "full"
	r.Request.EndWindowSize = 800
	return r
}

func (c *asrClient) transcribe(ctx context.Context, req *speech.TranscriptionRequest) (*speech.Transcript, error) {
	resource := asrResourceDuration
	if c.concurrent {
		resource = asrResourceConcurrent
	}
	connectID := req.SessionID
	if connectID == "" {
		connectID = uuid.NewString()
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.creds.header(resource, connectID))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ASR WebSocket: %w", err)
	}
	defer conn.Close()
	if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
		log.Printf("[asr] connected with logid: %s", logid)
	}

	// 读操作不感知 ctx，取消时直接关闭连接
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	first, err := requestFrame(buildASRRequest(req))
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, first.marshal()); err != nil {
		return nil, fmt.Errorf("failed to send ASR request: %w", err)
	}

	sendCtx, cancelSend := context.WithCancel(ctx)
	defer cancelSend()

	// 并发发送音频，服务端提前报错时可以及时停止
	sendErr := make(chan error, 1)
	go func() { sendErr <- c.sendAudio(sendCtx, conn, req.Audio) }()

	out, err := c.receive(conn, req.SessionID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		select {
		case se := <-sendErr:
			if se != nil {
				return nil, fmt.Errorf("failed to send audio data: %w (%v)", se, err)
			}
		default:
		}
		return nil, err
	}
	return out, nil
}

func (c *asrClient) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	// FullClientRequest 占用序号1，音频从2开始
	seq := int32(2)
	for start := 0; start < len(audio); start += asrChunkSize {
		end := min(start+asrChunkSize, len(audio))
		last := end == len(audio)

		f, err := audioFrame(audio[start:end], seq, last)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, f.marshal()); err != nil {
			return fmt.Errorf("failed to send audio chunk: %w", err)
		}
		seq++
		if last {
			return nil
		}

		if c.pacing > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.pacing):
			}
		}
	}
	return nil
}

func (c *asrClient) receive(conn *websocket.Conn, sessionID string) (*speech.Transcript, error) {
	var (
		text     string
		duration int64
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read ASR response: %w", err)
		}
		f, err := parseFrame(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode ASR message: %w", err)
		}

		switch f.kind {
		case errorResponse:
			body, err := f.body()
			if err != nil {
				return nil, fmt.Errorf("ASR error message decode failed: %w", err)
			}
			return nil, fmt.Errorf("ASR error %d: %s", f.code, string(body))

		case fullServerResponse:
			body, err := f.body()
			if err != nil {
				return nil, fmt.Errorf("failed to decompress ASR payload: %w", err)
			}
			var msg asrServerMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				log.Printf("[asr] failed to unmarshal response: %v", err)
				continue
			}
			if msg.Code != 0 && msg.Code != 20000000 {
				return nil, fmt.Errorf("ASR API error %d: %s", msg.Code, msg.Message)
			}

			candidate := msg.Result.Text
			if candidate == "" {
				candidate = joinUtterances(msg.Result.Utterances)
			}
			if candidate != "" {
				text = candidate
			}
			if msg.AudioInfo.Duration > 0 {
				duration = msg.AudioInfo.Duration
			}

			if f.last() || msg.Sequence < 0 {
				if text == "" {
					log.Printf("[asr] empty transcript for session %s", sessionID)
				}
				return &speech.Transcript{
					SessionID:  sessionID,
					Text:       strings.TrimSpace(text),
					Confidence: estimateConfidence(text),
					Duration:   duration,
					RequestID:  sessionID,
					CreatedAt:  time.Now(),
				}, nil
			}
		}
	}
}

func joinUtterances(utterances []asrUtterance) string {
	parts := make([]string, 0, len(utterances))
	for _, u := range utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func estimateConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return 0.95
}

