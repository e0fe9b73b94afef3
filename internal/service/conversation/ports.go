package conversation

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/zhouzirui/voicecall/internal/model/call"
	"github.com/zhouzirui/voicecall/internal/service/transport"
)

// Transport 到后端的一条连接，*transport.Session 实现了它
type Transport interface {
	ID() string
	Connect(ctx context.Context) error
	Events() <-chan transport.Event
	SendText(text string) error
	SendAudio(payload []byte) error
	Close() error
}

// TransportFactory 每通电话创建一个带新 session id 的连接
type TransportFactory func() Transport

// Capture 控制输入设备和可视化数据流，*audio.Capture 实现了它
type Capture interface {
	StartUserAudio(ctx context.Context, sink io.Writer) error
	StopUserAudio()
	StartAgentAudio()
	StopAgentAudio()
}

// Speaker 播放 agent 语音，播完才返回
type Speaker interface {
	Speak(ctx context.Context, text string) error
	PlayAudio(ctx context.Context, data []byte, format string) error
}

// Cues 播放接通和挂断提示音
type Cues interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Notifier 接收用户可见的通知。
// Notify 在状态机循环上调用，不能阻塞。
type Notifier interface {
	Notify(notice call.Notice)
}

// NotifierFunc 把函数适配为 Notifier
type NotifierFunc func(call.Notice)

func (f NotifierFunc) Notify(n call.Notice) { f(n) }

// LogNotifier 把通知写进日志
type LogNotifier struct{}

func (LogNotifier) Notify(n call.Notice) {
	log.Printf("[call] notice (%s) %s: %s", n.Severity, n.Title, n.Description)
}

// Timer 在 Clock 上挂起的回调
type Timer interface {
	Stop() bool
}

// Clock abstracts time for the machine's timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// PlaybackMode agent 回复的发声方式
type PlaybackMode string

const (
	// PlaybackServer 播放后端下发的 audio_response
	PlaybackServer PlaybackMode = "server"
	// PlaybackTTS 用 Speaker 朗读文本
	PlaybackTTS PlaybackMode = "tts"
	// PlaybackOff 不出声
	PlaybackOff PlaybackMode = "off"
)
