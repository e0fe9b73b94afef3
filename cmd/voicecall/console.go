package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/zhouzirui/voicecall/internal/model/call"
	"github.com/zhouzirui/voicecall/internal/service/conversation"
)

const helpText = `commands:
  start        connect to the assistant
  end          hang up
  talk         start recording (push-to-talk)
  stop         stop recording and send it
  say <text>   send a typed message
  mute         toggle the microphone
  status       show the call state
  level        show the current audio level
  help         show this help
  quit         exit`

// controller is the slice of the conversation machine the console drives.
type controller interface {
	State() conversation.State
	StartCall(ctx context.Context) error
	EndCall(ctx context.Context) error
	SendUserMessage(ctx context.Context, text string) error
	StartUserSpeaking(ctx context.Context) error
	StopUserSpeaking(ctx context.Context) error
}

// printer serializes console output between the prompt loop and the
// machine's notifier.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) Notify(n call.Notice) {
	p.printf("[%s] %s: %s", n.Severity, n.Title, n.Description)
}

// console 负责终端交互，并在表现层实现静音闸门
type console struct {
	ctl   controller
	probe func(ctx context.Context) error
	level func() (call.Snapshot, bool)
	out   *printer

	muted bool
	label string
	// seen 记录已打印的消息条数
	seen  int
}

// run reads commands until quit or EOF.
func (c *console) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	c.out.printf("%s", helpText)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !c.exec(ctx, line) {
			return nil
		}
	}
	return scanner.Err()
}

// exec runs one command line and reports whether to keep reading.
func (c *console) exec(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "start":
		c.start(ctx)
	case "end":
		c.report(c.ctl.EndCall(ctx))
	case "talk":
		if c.muted {
			c.out.Notify(call.Notice{
				Title:       "Microphone is muted",
				Description: "Please unmute your microphone to speak",
				Severity:    call.SeverityDestructive,
			})
			return true
		}
		c.report(c.ctl.StartUserSpeaking(ctx))
	case "stop":
		c.report(c.ctl.StopUserSpeaking(ctx))
	case "say":
		if arg == "" {
			c.out.printf("usage: say <text>")
			return true
		}
		c.report(c.ctl.SendUserMessage(ctx, arg))
	case "mute":
		c.toggleMute(ctx)
	case "status":
		c.printStatus()
	case "level":
		c.printLevel()
	case "help":
		c.out.printf("%s", helpText)
	case "quit", "exit":
		if c.ctl.State().Status == call.StatusActive {
			c.report(c.ctl.EndCall(ctx))
		}
		return false
	default:
		c.out.printf("unknown command %q (type help)", cmd)
	}
	return true
}

func (c *console) start(ctx context.Context) {
	if !c.ctl.State().Status.CanStart() {
		c.out.printf("a call is already in progress")
		return
	}
	if c.probe != nil {
		if err := c.probe(ctx); err != nil {
			c.out.Notify(call.Notice{
				Title:       "Microphone access denied",
				Description: "Please allow microphone access to use the voice chat",
				Severity:    call.SeverityDestructive,
			})
			return
		}
	}
	c.report(c.ctl.StartCall(ctx))
}

// toggleMute 静音时若正在录音，先结束并发送当前录音
func (c *console) toggleMute(ctx context.Context) {
	c.muted = !c.muted
	if c.muted {
		if c.ctl.State().UserSpeaking {
			c.report(c.ctl.StopUserSpeaking(ctx))
		}
		c.out.printf("microphone muted")
		return
	}
	c.out.printf("microphone unmuted")
}

func (c *console) printStatus() {
	s := c.ctl.State()
	mic := "on"
	if c.muted {
		mic = "muted"
	}
	c.out.printf("status=%s (%s) session=%s mic=%s messages=%d", s.Status, s.Label(), s.SessionID, mic, len(s.Messages))
}

func (c *console) printLevel() {
	if c.level == nil {
		return
	}
	snap, ok := c.level()
	if !ok {
		c.out.printf("no audio")
		return
	}
	bars := int(snap.Volume * 40)
	if bars > 40 {
		bars = 40
	}
	c.out.printf("[%-40s] %.2f", strings.Repeat("#", bars), snap.Volume)
}

// refresh prints new transcript lines and status label changes.
func (c *console) refresh() {
	s := c.ctl.State()
	if label := s.Label(); label != c.label {
		c.label = label
		c.out.printf("-- %s", label)
	}
	// 记录只增不减，跨通话保留
	for _, m := range s.Messages[c.seen:] {
		c.out.printf("%s> %s", m.Sender, m.Text)
	}
	c.seen = len(s.Messages)
}

func (c *console) report(err error) {
	if err == nil {
		return
	}
	// 设备错误已经由状态机以通知形式给出
	var callErr *conversation.CallError
	if errors.As(err, &callErr) && callErr.Kind == conversation.KindDeviceAccess {
		return
	}
	c.out.printf("error: %v", err)
}
