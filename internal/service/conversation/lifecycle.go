package conversation

import (
	"context"
	"errors"
	"log"

	"github.com/zhouzirui/voicecall/internal/model/call"
	"github.com/zhouzirui/voicecall/internal/service/transport"
)

func (m *Machine) startCall() error {
	if !m.status.CanStart() {
		log.Printf("[call] start rejected: status=%s", m.status)
		return ErrCallInProgress
	}

	// 上一通电话的 settle 定时器不能落到这一通
	m.disarmAll()
	m.gen++

	t := m.cfg.NewTransport()
	m.transport = t
	m.sessionID = t.ID()
	m.callCtx, m.callCancel = context.WithCancel(context.Background())
	m.setStatus(call.StatusConnecting)
	m.playCue(true)

	if err := t.Connect(m.callCtx); err != nil {
		m.fail(KindConnection, err)
		return &CallError{Kind: KindConnection, Err: err}
	}
	m.events = t.Events()

	m.arm(timerConnect, m.cfg.ConnectTimeout, func() {
		if m.status == call.StatusConnecting {
			m.fail(KindConnectionTimeout, ErrConnectTimeout)
		}
	})
	log.Printf("[call] connecting, session=%s", m.sessionID)
	return nil
}

func (m *Machine) endCall() {
	if m.status != call.StatusConnecting && m.status != call.StatusActive {
		return
	}
	m.teardown()
	m.setStatus(call.StatusDisconnected)
	m.playCue(false)
	m.notify("Call ended", "Your call has been disconnected", call.SeverityInfo)
	m.armSettle()
}

func (m *Machine) armSettle() {
	m.arm(timerSettle, m.cfg.SettleDelay, func() {
		if m.status == call.StatusDisconnected {
			m.setStatus(call.StatusIdle)
		}
	})
}

// fail 以错误状态结束通话
func (m *Machine) fail(kind Kind, err error) {
	log.Printf("[call] %v", &CallError{Kind: kind, Err: err})
	m.teardown()
	m.setStatus(call.StatusError)

	switch kind {
	case KindConnectionTimeout:
		m.notify("Connection failed", "Could not reach the assistant in time. Please try again.", call.SeverityDestructive)
	default:
		description := "The connection to the assistant failed"
		if err != nil {
			description = err.Error()
		}
		m.notify("Connection error", description, call.SeverityDestructive)
	}
}

// disconnect 处理对端关闭进行中的通话
func (m *Machine) disconnect(err error) {
	log.Printf("[call] %v", &CallError{Kind: KindUnexpectedClose, Err: err})
	m.teardown()
	m.setStatus(call.StatusDisconnected)
	m.notify("Connection lost", "The assistant ended the call unexpectedly", call.SeverityWarning)
	m.armSettle()
}

// teardown 释放当前通话持有的资源，并让其定时器和回调失效。
// 状态由调用方设置。
func (m *Machine) teardown() {
	m.disarmAll()
	m.gen++

	if m.callCancel != nil {
		m.callCancel()
		m.callCancel = nil
	}
	m.callCtx = nil

	if m.recorder != nil || m.acquiring || m.source == call.SourceUser {
		m.cfg.Capture.StopUserAudio()
	}
	if m.source == call.SourceAgent {
		m.cfg.Capture.StopAgentAudio()
	}
	m.recorder = nil
	m.acquiring = false
	m.source = call.SourceNone
	m.agentSpeaking = false
	m.userSpeaking = false
	m.processing = false

	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			log.Printf("[call] close transport: %v", err)
		}
		m.transport = nil
	}
	m.events = nil
}

func (m *Machine) playCue(connect bool) {
	cues := m.cfg.Cues
	if cues == nil {
		return
	}
	go func() {
		var err error
		if connect {
			err = cues.Connect(context.Background())
		} else {
			err = cues.Disconnect(context.Background())
		}
		if err != nil {
			log.Printf("[call] cue: %v", err)
		}
	}()
}

func (m *Machine) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventOpened:
		if m.status != call.StatusConnecting {
			return
		}
		m.disarm(timerConnect)
		m.setStatus(call.StatusActive)
		m.notify("Call connected", "You're now connected to our AI assistant", call.SeveritySuccess)

	case transport.EventFailed:
		if m.status != call.StatusConnecting && m.status != call.StatusActive {
			return
		}
		if errors.Is(ev.Err, transport.ErrHandshakeTimeout) {
			m.fail(KindConnectionTimeout, ev.Err)
			return
		}
		m.fail(KindConnection, ev.Err)

	case transport.EventClosed:
		if ev.Expected {
			return
		}
		switch m.status {
		case call.StatusActive:
			m.disconnect(ev.Err)
		case call.StatusConnecting:
			m.fail(KindConnection, ev.Err)
		}

	case transport.EventAgentMessage:
		if m.status != call.StatusActive {
			return
		}
		m.agentReply(ev.Text)

	case transport.EventTranscription:
		if m.status != call.StatusActive {
			return
		}
		m.appendMessage(ev.Text, call.SenderUser)
		m.startProcessing()

	case transport.EventServerError:
		if m.status != call.StatusActive {
			return
		}
		log.Printf("[call] %v", &CallError{Kind: KindServerReported, Err: errors.New(ev.Text)})
		m.notify("Error", ev.Text, call.SeverityWarning)

	case transport.EventAudioResponse:
		if m.status != call.StatusActive {
			return
		}
		m.playAudioResponse(ev.Audio, ev.Format)
	}
}
