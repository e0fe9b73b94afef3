package conversation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/voicecall/internal/model/call"
	"github.com/zhouzirui/voicecall/internal/service/audio"
	"github.com/zhouzirui/voicecall/internal/service/transport"
)

const (
	DefaultConnectTimeout   = 5 * time.Second
	DefaultSettleDelay      = 2 * time.Second
	DefaultProcessingWindow = 1500 * time.Millisecond

	minAgentSpeaking = 2 * time.Second
	perRuneSpeaking  = 75 * time.Millisecond
)

// Config 状态机的依赖
type Config struct {
	NewTransport TransportFactory
	Capture      Capture
	// Speaker 和 Cues 可选
	Speaker  Speaker
	Cues     Cues
	Notifier Notifier
	Clock    Clock
	Playback PlaybackMode

	ConnectTimeout   time.Duration
	SettleDelay      time.Duration
	ProcessingWindow time.Duration
}

// State 状态快照
type State struct {
	Status        call.Status
	Messages      []call.Message
	AgentSpeaking bool
	UserSpeaking  bool
	Processing    bool
	Source        call.VisualizationSource
	SessionID     string
}

// Label 展示给用户的状态文字
func (s State) Label() string {
	return s.Status.Label(s.AgentSpeaking, s.UserSpeaking)
}

type timerKind int

const (
	timerConnect timerKind = iota
	timerSettle
	timerProcessing
	timerAgentSpeaking
)

type armedTimer struct {
	id    uint64
	timer Timer
}

// Machine 管理通话生命周期。
// 所有状态只在 Run 的 goroutine 上读写，命令和入站事件都经它串行处理。
type Machine struct {
	cfg      Config
	clock    Clock
	notifier Notifier

	inbox   chan func()
	stopped chan struct{}
	changes chan struct{}
	runOnce sync.Once

	// loop-owned state
	status        call.Status
	messages      []call.Message
	agentSpeaking bool
	userSpeaking  bool
	processing    bool
	source        call.VisualizationSource

	gen        uint64
	timerID    uint64
	timers     map[timerKind]armedTimer
	transport  Transport
	events     <-chan transport.Event
	sessionID  string
	callCtx    context.Context
	callCancel context.CancelFunc

	recorder   *audio.Recorder
	acquiring  bool
	acquireSeq uint64
	agentSeq   uint64
}

// New 创建空闲的状态机，调用 Run 后开始处理
func New(cfg Config) *Machine {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.ProcessingWindow <= 0 {
		cfg.ProcessingWindow = DefaultProcessingWindow
	}
	if cfg.Playback == "" {
		cfg.Playback = PlaybackServer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Machine{
		cfg:      cfg,
		clock:    clock,
		notifier: notifier,
		inbox:    make(chan func(), 256),
		stopped:  make(chan struct{}),
		changes:  make(chan struct{}, 1),
		status:   call.StatusIdle,
		timers:   make(map[timerKind]armedTimer),
	}
}

// Run 处理命令、定时器和连接事件，直到 ctx 结束。
// 退出时静默拆除进行中的通话。
func (m *Machine) Run(ctx context.Context) error {
	started := false
	m.runOnce.Do(func() { started = true })
	if !started {
		return ErrStopped
	}
	defer close(m.stopped)

	for {
		select {
		case <-ctx.Done():
			m.teardown()
			return ctx.Err()
		case fn := <-m.inbox:
			fn()
		case ev, ok := <-m.events:
			if !ok {
				m.events = nil
				continue
			}
			m.handleEvent(ev)
		}
		m.signal()
	}
}

// Changes 每处理一次就发信号，不保证状态真的变了
func (m *Machine) Changes() <-chan struct{} { return m.changes }

// State 返回当前状态的副本
func (m *Machine) State() State {
	var s State
	if err := m.do(context.Background(), func() { s = m.snapshot() }); err != nil {
		return State{Status: call.StatusIdle}
	}
	return s
}

// StartCall 发起通话，开始连接后即返回。
// 结果通过状态变化和通知送达。
func (m *Machine) StartCall(ctx context.Context) error {
	var err error
	if derr := m.do(ctx, func() { err = m.startCall() }); derr != nil {
		return derr
	}
	return err
}

// EndCall 挂断；没有通话时什么也不做
func (m *Machine) EndCall(ctx context.Context) error {
	return m.do(ctx, m.endCall)
}

// SendUserMessage 发送文字消息
func (m *Machine) SendUserMessage(ctx context.Context, text string) error {
	var err error
	if derr := m.do(ctx, func() { err = m.sendUserMessage(text) }); derr != nil {
		return derr
	}
	return err
}

// StartUserSpeaking 打开麦克风开始录音，会等待设备就绪。
// 设备失败时返回 KindDeviceAccess 的 CallError，同时发出通知。
func (m *Machine) StartUserSpeaking(ctx context.Context) error {
	return m.await(ctx, m.startUserSpeaking)
}

// StopUserSpeaking 结束录音并发送
func (m *Machine) StopUserSpeaking(ctx context.Context) error {
	return m.await(ctx, m.stopUserSpeaking)
}

func (m *Machine) post(fn func()) bool {
	select {
	case <-m.stopped:
		return false
	default:
	}
	select {
	case m.inbox <- fn:
		return true
	case <-m.stopped:
		return false
	}
}

func (m *Machine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !m.post(func() {
		fn()
		close(done)
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrStopped
	}
}

// await 在循环上执行 fn；fn 启动了后台任务时，等待其回调给出结果
func (m *Machine) await(ctx context.Context, fn func() (<-chan error, error)) error {
	var (
		wait <-chan error
		err  error
	)
	if derr := m.do(ctx, func() { wait, err = fn() }); derr != nil {
		return derr
	}
	if wait == nil {
		return err
	}
	select {
	case err = <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrStopped
	}
}

func (m *Machine) signal() {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

func (m *Machine) snapshot() State {
	messages := make([]call.Message, len(m.messages))
	copy(messages, m.messages)
	return State{
		Status:        m.status,
		Messages:      messages,
		AgentSpeaking: m.agentSpeaking,
		UserSpeaking:  m.userSpeaking,
		Processing:    m.processing,
		Source:        m.source,
		SessionID:     m.sessionID,
	}
}

func (m *Machine) setStatus(status call.Status) {
	if m.status == status {
		return
	}
	log.Printf("[call] status %s -> %s", m.status, status)
	m.status = status
}

func (m *Machine) notify(title, description string, severity call.Severity) {
	m.notifier.Notify(call.Notice{Title: title, Description: description, Severity: severity})
}

// arm 在 d 之后于循环上执行 fire。
// 同类定时器重复 arm 会替换旧的；被替换、取消或属于上一通电话的回调不生效。
func (m *Machine) arm(kind timerKind, d time.Duration, fire func()) {
	m.disarm(kind)
	m.timerID++
	id, gen := m.timerID, m.gen
	t := m.clock.AfterFunc(d, func() {
		m.post(func() {
			if gen != m.gen {
				return
			}
			current, ok := m.timers[kind]
			if !ok || current.id != id {
				return
			}
			delete(m.timers, kind)
			fire()
		})
	})
	m.timers[kind] = armedTimer{id: id, timer: t}
}

func (m *Machine) disarm(kind timerKind) {
	if current, ok := m.timers[kind]; ok {
		current.timer.Stop()
		delete(m.timers, kind)
	}
}

func (m *Machine) disarmAll() {
	for kind := range m.timers {
		m.disarm(kind)
	}
}

// async 在循环外用当前通话的 context 执行 work
func (m *Machine) async(work func(ctx context.Context)) {
	ctx := m.callCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go work(ctx)
}

// SpeakingDuration 估算一段回复的朗读时长
func SpeakingDuration(text string) time.Duration {
	d := time.Duration(len([]rune(text))) * perRuneSpeaking
	if d < minAgentSpeaking {
		return minAgentSpeaking
	}
	return d
}
