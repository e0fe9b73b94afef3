package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voicecall/internal/model/speech"
)

// ttsClient 火山引擎单向流式 TTS
type ttsClient struct {
	url    string
	dialer *websocket.Dialer
	creds  credentials
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate"`
	EnableTimestamp bool    `json:"enable_timestamp"`
	SpeedRatio      float32 `json:"speed_ratio,omitempty"`
	VolumeRatio     float32 `json:"volume_ratio,omitempty"`
}

// ttsEncoding 只保留服务端支持的编码，其余（包括 wav）回退为 mp3。
func ttsEncoding(format string) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "mp3", "ogg_opus", "pcm":
		return f
	default:
		return "mp3"
	}
}

func buildTTSRequest(req *speech.SynthesisRequest, uid, speaker, encoding string) *ttsRequest {
	r := &ttsRequest{}
	r.User.UID = uid
	r.ReqParams.Speaker = speaker
	r.ReqParams.Text = req.Text
	r.ReqParams.AudioParams = ttsAudioParams{
		Format:          encoding,
		SampleRate:      24000,
		EnableTimestamp: true,
	}
	if req.Speed > 0 && req.Speed != 1.0 {
		r.ReqParams.AudioParams.SpeedRatio = req.Speed
	}
	if req.Volume > 0 && req.Volume != 1.0 {
		r.ReqParams.AudioParams.VolumeRatio = req.Volume
	}
	r.ReqParams.Language = strings.TrimSpace(req.Language)
	r.ReqParams.Additions = `{"disable_markdown_filter":false}`
	return r
}

// synthesize 依次尝试候选音色与资源 ID，只有资源不匹配时才继续尝试下一个。
func (c *ttsClient) synthesize(ctx context.Context, req *speech.SynthesisRequest, configuredVoice string) (*speech.Synthesis, error) {
	encoding := ttsEncoding(req.Format)
	speakers := resolveTTSSpeakerCandidates(req.Voice, configuredVoice)

	var lastMismatch error
	for speakerIdx, speaker := range speakers {
		for resourceIdx, resource := range resolveTTSResourceCandidates(speaker) {
			out, err := c.attempt(ctx, req, speaker, encoding, resource)
			if err == nil {
				if resourceIdx > 0 || speakerIdx > 0 {
					log.Printf("[tts] voice %s succeeded with fallback resource %s", speaker, resource)
				}
				return out, nil
			}
			if !isResourceMismatchError(err) {
				return nil, err
			}
			log.Printf("[tts] voice %s resource %s mismatch: %v", speaker, resource, err)
			lastMismatch = err
		}
	}

	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, fmt.Errorf("no compatible resource id or speaker for voice candidates %v", speakers)
}

func (c *ttsClient) attempt(ctx context.Context, req *speech.SynthesisRequest, speaker, encoding, resource string) (*speech.Synthesis, error) {
	connectID := uuid.NewString()

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.creds.header(resource, connectID))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS WebSocket: %w", err)
	}
	defer conn.Close()
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[tts] connected with logid: %s", logid)
		}
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	uid := strings.TrimSpace(req.SessionID)
	if uid == "" {
		uid = uuid.NewString()
	}

	// TTS 请求体不压缩
	raw, err := json.Marshal(buildTTSRequest(req, uid, speaker, encoding))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}
	first := &frame{kind: fullClientRequest, serial: serialJSON, compress: compressNone, payload: raw}
	if err := conn.WriteMessage(websocket.BinaryMessage, first.marshal()); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}
		f, err := parseFrame(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}

		switch f.kind {
		case errorResponse:
			body, err := f.body()
			if err != nil {
				return nil, fmt.Errorf("TTS error message decode failed: %w", err)
			}
			return nil, fmt.Errorf("TTS error: %s", string(body))

		case audioOnlyResponse:
			chunk, err := f.body()
			if err != nil {
				return nil, fmt.Errorf("failed to decompress audio chunk: %w", err)
			}
			audio.Write(chunk)

		case fullServerResponse:
			body, err := f.body()
			if err != nil {
				return nil, fmt.Errorf("failed to decompress TTS response payload: %w", err)
			}
			if f.hasEvent() && f.event != eventSessionFinished {
				log.Printf("[tts] server event: %d", f.event)
			}

			var msg ttsServerMessage
			if len(body) > 0 {
				if err := json.Unmarshal(body, &msg); err != nil {
					log.Printf("[tts] failed to unmarshal response payload: %v", err)
				} else {
					if msg.Code != 0 && msg.Code != 3000 {
						return nil, fmt.Errorf("TTS API error %d: %s", msg.Code, msg.Message)
					}
					if msg.ReqID != "" {
						reqID = msg.ReqID
					}
					if d, err := strconv.ParseInt(msg.Addition.Duration, 10, 64); err == nil {
						duration = d
					}
					if msg.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(msg.Data)
						if err != nil {
							return nil, fmt.Errorf("failed to decode base64 audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finished := (f.hasEvent() && f.event == eventSessionFinished) || f.last() || msg.Sequence < 0
			if !finished {
				continue
			}
			if audio.Len() == 0 {
				return nil, fmt.Errorf("TTS audio is empty")
			}
			if reqID == "" {
				reqID = connectID
			}
			return &speech.Synthesis{
				SessionID: uid,
				Audio:     audio.Bytes(),
				Duration:  duration,
				Format:    encoding,
				RequestID: reqID,
				CreatedAt: time.Now(),
			}, nil

		default:
			log.Printf("[tts] unexpected message type: %d", f.kind)
		}
	}
}
