package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voicecall/internal/model/call"
	"github.com/zhouzirui/voicecall/internal/service/conversation"
)

type fakeController struct {
	mu       sync.Mutex
	state    conversation.State
	calls    []string
	speakErr error
}

func (f *fakeController) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeController) State() conversation.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) StartCall(context.Context) error {
	f.record("start")
	f.mu.Lock()
	f.state.Status = call.StatusConnecting
	f.mu.Unlock()
	return nil
}

func (f *fakeController) EndCall(context.Context) error {
	f.record("end")
	return nil
}

func (f *fakeController) SendUserMessage(_ context.Context, text string) error {
	f.record("say:" + text)
	return nil
}

func (f *fakeController) StartUserSpeaking(context.Context) error {
	f.record("talk")
	return f.speakErr
}

func (f *fakeController) StopUserSpeaking(context.Context) error {
	f.record("stop")
	return nil
}

func newTestConsole(ctl *fakeController) (*console, *bytes.Buffer) {
	var buf bytes.Buffer
	return &console{ctl: ctl, out: &printer{w: &buf}}, &buf
}

func TestConsoleMuteGatesTalk(t *testing.T) {
	ctl := &fakeController{state: conversation.State{Status: call.StatusActive}}
	con, out := newTestConsole(ctl)
	ctx := context.Background()

	require.True(t, con.exec(ctx, "mute"))
	require.True(t, con.exec(ctx, "talk"))
	require.Empty(t, ctl.calls)
	require.Contains(t, out.String(), "Microphone is muted: Please unmute your microphone to speak")
	require.Contains(t, out.String(), "[destructive]")

	require.True(t, con.exec(ctx, "mute"))
	require.True(t, con.exec(ctx, "talk"))
	require.Equal(t, []string{"talk"}, ctl.calls)
}

func TestConsoleMuteWhileSpeakingSendsRecording(t *testing.T) {
	ctl := &fakeController{state: conversation.State{Status: call.StatusActive, UserSpeaking: true}}
	con, _ := newTestConsole(ctl)

	con.exec(context.Background(), "mute")
	require.Equal(t, []string{"stop"}, ctl.calls)
}

func TestConsoleStartProbesMicrophone(t *testing.T) {
	ctl := &fakeController{state: conversation.State{Status: call.StatusIdle}}
	con, out := newTestConsole(ctl)
	con.probe = func(context.Context) error { return errors.New("no device") }

	con.exec(context.Background(), "start")
	require.Empty(t, ctl.calls)
	require.Contains(t, out.String(), "Microphone access denied")

	con.probe = func(context.Context) error { return nil }
	con.exec(context.Background(), "start")
	require.Equal(t, []string{"start"}, ctl.calls)

	// connecting: a second start is refused locally
	con.exec(context.Background(), "start")
	require.Equal(t, []string{"start"}, ctl.calls)
}

func TestConsoleSayAndUsage(t *testing.T) {
	ctl := &fakeController{state: conversation.State{Status: call.StatusActive}}
	con, out := newTestConsole(ctl)

	con.exec(context.Background(), "say   hello there ")
	con.exec(context.Background(), "say")
	require.Equal(t, []string{"say:hello there"}, ctl.calls)
	require.Contains(t, out.String(), "usage: say <text>")
}

func TestConsoleHidesDeviceErrors(t *testing.T) {
	ctl := &fakeController{
		state:    conversation.State{Status: call.StatusActive},
		speakErr: &conversation.CallError{Kind: conversation.KindDeviceAccess, Err: errors.New("denied")},
	}
	con, out := newTestConsole(ctl)

	con.exec(context.Background(), "talk")
	require.NotContains(t, out.String(), "error:")

	ctl.speakErr = conversation.ErrNotActive
	con.exec(context.Background(), "talk")
	require.Contains(t, out.String(), "error: call is not active")
}

func TestConsoleRefreshPrintsNewMessages(t *testing.T) {
	ctl := &fakeController{state: conversation.State{
		Status: call.StatusActive,
		Messages: []call.Message{
			{ID: "1", Text: "Hello!", Sender: call.SenderAgent},
		},
	}}
	con, out := newTestConsole(ctl)

	con.refresh()
	con.refresh()
	require.Equal(t, 1, strings.Count(out.String(), "agent> Hello!"))
	require.Contains(t, out.String(), "-- Connected")

	ctl.mu.Lock()
	ctl.state.Messages = append(ctl.state.Messages, call.Message{ID: "2", Text: "hi", Sender: call.SenderUser})
	ctl.mu.Unlock()
	con.refresh()
	require.Contains(t, out.String(), "user> hi")

	// 再次拨号时记录保留，不重复打印
	ctl.mu.Lock()
	ctl.state.Status = call.StatusConnecting
	ctl.mu.Unlock()
	con.refresh()
	require.Equal(t, 2, con.seen)
	require.Contains(t, out.String(), "-- Connecting...")
	require.Equal(t, 1, strings.Count(out.String(), "user> hi"))
}

func TestConsoleRunStopsOnQuit(t *testing.T) {
	ctl := &fakeController{state: conversation.State{Status: call.StatusActive}}
	con, out := newTestConsole(ctl)

	err := con.run(context.Background(), strings.NewReader("status\nbogus\nquit\nsay never\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"end"}, ctl.calls)
	require.Contains(t, out.String(), "status=active (Connected)")
	require.Contains(t, out.String(), `unknown command "bogus"`)
}

func TestConsoleLevel(t *testing.T) {
	con, out := newTestConsole(&fakeController{})
	con.level = func() (call.Snapshot, bool) { return call.Snapshot{Volume: 0.5}, true }

	con.exec(context.Background(), "level")
	require.Contains(t, out.String(), strings.Repeat("#", 20)+strings.Repeat(" ", 20)+"] 0.50")
}
