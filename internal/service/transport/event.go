package transport

import "fmt"

// EventKind 入站事件类型
type EventKind int

const (
	// EventOpened 连接建立且 init 已发送
	EventOpened EventKind = iota
	// EventClosed 已建立的连接结束
	EventClosed
	// EventFailed 连接失败或中断
	EventFailed
	EventAgentMessage
	EventTranscription
	EventServerError
	// EventAudioResponse 最近一条回复的合成语音
	EventAudioResponse
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventFailed:
		return "failed"
	case EventAgentMessage:
		return "agent_message"
	case EventTranscription:
		return "transcription"
	case EventServerError:
		return "error"
	case EventAudioResponse:
		return "audio_response"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event 按接收顺序投递到 Session.Events
type Event struct {
	Kind EventKind
	// Text 回复文本、转写结果或服务端错误信息
	Text   string
	Audio  []byte
	Format string
	// Expected 由 Close 主动关闭时为 true
	Expected bool
	Err      error
}

// 消息类型
const (
	TypeInit          = "init"
	TypeMessage       = "message"
	TypeAgentMessage  = "agent_message"
	TypeTranscription = "transcription"
	TypeError         = "error"
	TypeAudioResponse = "audio_response"
)

// OutboundMessage 客户端发出的 JSON 消息
type OutboundMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// InboundMessage 后端下发的 JSON 消息
type InboundMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
	// Audio base64 编码的语音，仅 audio_response 使用
	Audio  string `json:"audio,omitempty"`
	Format string `json:"format,omitempty"`
}
