package conversation

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voicecall/internal/model/call"
	"github.com/zhouzirui/voicecall/internal/service/transport"
)

type fakeTransport struct {
	id         string
	connectErr error
	events     chan transport.Event

	mu     sync.Mutex
	texts  []string
	audio  [][]byte
	closed int
}

func (f *fakeTransport) ID() string { return f.id }

func (f *fakeTransport) Connect(context.Context) error { return f.connectErr }

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }

func (f *fakeTransport) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed > 0 {
		return transport.ErrNotOpen
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeTransport) SendAudio(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed > 0 {
		return transport.ErrNotOpen
	}
	f.audio = append(f.audio, payload)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeTransport) sentAudio() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.audio...)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed > 0
}

type fakeCapture struct {
	mu         sync.Mutex
	err        error
	userActive bool
	agentRuns  int
	source     call.VisualizationSource
	starts     int
	stops      int

	// gate 非空时，设备打开要等到 gate 关闭
	gate chan struct{}
}

func (c *fakeCapture) StartUserAudio(ctx context.Context, sink io.Writer) error {
	c.mu.Lock()
	c.starts++
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.userActive = true
	c.source = call.SourceUser
	if sink != nil {
		_, _ = sink.Write([]byte{1, 0, 2, 0, 3, 0, 4, 0})
	}
	return nil
}

func (c *fakeCapture) StopUserAudio() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == call.SourceUser {
		c.source = call.SourceNone
	}
	if c.userActive {
		c.stops++
	}
	c.userActive = false
}

func (c *fakeCapture) StartAgentAudio() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userActive = false
	c.agentRuns++
	c.source = call.SourceAgent
}

func (c *fakeCapture) StopAgentAudio() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == call.SourceAgent {
		c.source = call.SourceNone
	}
}

func (c *fakeCapture) startCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

func (c *fakeCapture) current() call.VisualizationSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

// fakeClock fires callbacks synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

type noticeLog struct {
	mu      sync.Mutex
	notices []call.Notice
}

func (n *noticeLog) Notify(notice call.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *noticeLog) all() []call.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]call.Notice(nil), n.notices...)
}

func (n *noticeLog) last() call.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notices) == 0 {
		return call.Notice{}
	}
	return n.notices[len(n.notices)-1]
}

type fakeSpeaker struct {
	mu      sync.Mutex
	spoken  []string
	played  []string
	release chan struct{}
	err     error
}

func (s *fakeSpeaker) wait(ctx context.Context) error {
	if s.release == nil {
		return s.err
	}
	select {
	case <-s.release:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSpeaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()
	return s.wait(ctx)
}

func (s *fakeSpeaker) PlayAudio(ctx context.Context, data []byte, format string) error {
	s.mu.Lock()
	s.played = append(s.played, format)
	s.mu.Unlock()
	return s.wait(ctx)
}

func (s *fakeSpeaker) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spoken), len(s.played)
}

// testingT is satisfied by *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
	Fatalf(format string, args ...any)
}

type harness struct {
	t          testingT
	stop       func()
	machine    *Machine
	clock      *fakeClock
	capture    *fakeCapture
	notices    *noticeLog
	mu         sync.Mutex
	transports []*fakeTransport
	connectErr error
}

// startHarness runs a machine for the lifetime of the test.
func startHarness(t *testing.T, tweak func(*Config)) *harness {
	h := newHarness(t, tweak)
	t.Cleanup(h.stop)
	return h
}

func newHarness(t testingT, tweak func(*Config)) *harness {
	h := &harness{
		t:       t,
		clock:   newFakeClock(),
		capture: &fakeCapture{},
		notices: &noticeLog{},
	}
	cfg := Config{
		NewTransport: func() Transport {
			h.mu.Lock()
			defer h.mu.Unlock()
			ft := &fakeTransport{
				id:         "session-" + string(rune('a'+len(h.transports))),
				connectErr: h.connectErr,
				events:     make(chan transport.Event),
			}
			h.transports = append(h.transports, ft)
			return ft
		},
		Capture:  h.capture,
		Notifier: h.notices,
		Clock:    h.clock,
		Playback: PlaybackOff,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	h.machine = New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.machine.Run(ctx)
	}()
	h.stop = func() {
		cancel()
		<-done
	}
	return h
}

func (h *harness) transport() *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(h.t, h.transports)
	return h.transports[len(h.transports)-1]
}

func (h *harness) transportCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.transports)
}

// emit hands an event to the machine's loop; it returns once the loop took it.
func (h *harness) emit(ev transport.Event) {
	h.t.Helper()
	select {
	case h.transport().events <- ev:
	case <-time.After(2 * time.Second):
		h.t.Fatalf("machine did not accept %s event", ev.Kind)
	}
}

func (h *harness) state() State {
	return h.machine.State()
}

func (h *harness) connect() {
	h.t.Helper()
	require.NoError(h.t, h.machine.StartCall(context.Background()))
	h.emit(transport.Event{Kind: transport.EventOpened})
	require.Equal(h.t, call.StatusActive, h.state().Status)
}
