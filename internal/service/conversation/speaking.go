package conversation

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/zhouzirui/voicecall/internal/model/call"
	"github.com/zhouzirui/voicecall/internal/service/audio"
)

func (m *Machine) appendMessage(text string, sender call.Sender) {
	m.messages = append(m.messages, call.Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    sender,
		Timestamp: m.clock.Now(),
	})
}

func (m *Machine) startProcessing() {
	m.processing = true
	m.arm(timerProcessing, m.cfg.ProcessingWindow, func() {
		m.processing = false
	})
}

func (m *Machine) sendUserMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if m.status != call.StatusActive {
		return ErrNotActive
	}
	if err := m.transport.SendText(text); err != nil {
		callErr := &CallError{Kind: KindConnection, Err: err}
		log.Printf("[call] send message: %v", callErr)
		m.notify("Message not sent", "Could not send your message: "+err.Error(), call.SeverityDestructive)
		return callErr
	}
	m.appendMessage(text, call.SenderUser)
	m.startProcessing()
	return nil
}

func (m *Machine) agentReply(text string) {
	// 两个说话标志互斥：agent 开口前先把录音发出去
	if m.recording() {
		m.finishRecording(nil)
	}

	m.appendMessage(text, call.SenderAgent)

	m.agentSeq++
	seq := m.agentSeq
	m.agentSpeaking = true
	m.userSpeaking = false
	m.cfg.Capture.StartAgentAudio()
	m.source = call.SourceAgent
	m.arm(timerAgentSpeaking, SpeakingDuration(text), m.stopAgentSpeaking)

	if m.cfg.Playback == PlaybackTTS && m.cfg.Speaker != nil {
		speaker := m.cfg.Speaker
		m.async(func(ctx context.Context) {
			err := speaker.Speak(ctx, text)
			m.post(func() { m.playbackDone(seq, err) })
		})
	}
}

func (m *Machine) playAudioResponse(data []byte, format string) {
	if m.cfg.Playback != PlaybackServer || m.cfg.Speaker == nil || len(data) == 0 {
		return
	}
	seq := m.agentSeq
	speaker := m.cfg.Speaker
	m.async(func(ctx context.Context) {
		err := speaker.PlayAudio(ctx, data, format)
		m.post(func() { m.playbackDone(seq, err) })
	})
}

// playbackDone 仅当这段播放仍是当前回复时才清除说话标志
func (m *Machine) playbackDone(seq uint64, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		callErr := &CallError{Kind: KindPlayback, Err: err}
		log.Printf("[call] %v", callErr)
		m.notify("Playback failed", "Agent speech could not be played: "+err.Error(), call.SeverityWarning)
	}
	if seq != m.agentSeq || !m.agentSpeaking {
		return
	}
	m.stopAgentSpeaking()
}

func (m *Machine) stopAgentSpeaking() {
	m.disarm(timerAgentSpeaking)
	m.agentSpeaking = false
	if m.source == call.SourceAgent {
		m.cfg.Capture.StopAgentAudio()
		m.source = call.SourceNone
	}
}

func (m *Machine) recording() bool {
	return m.recorder != nil
}

func (m *Machine) startUserSpeaking() (<-chan error, error) {
	if m.status != call.StatusActive {
		return nil, ErrNotActive
	}
	if m.recording() || m.acquiring {
		return nil, nil
	}

	m.acquiring = true
	m.acquireSeq++
	seq, gen := m.acquireSeq, m.gen
	rec := audio.NewRecorder()
	capture := m.cfg.Capture
	reply := make(chan error, 1)

	m.async(func(ctx context.Context) {
		err := capture.StartUserAudio(ctx, rec)
		m.post(func() { reply <- m.userAudioStarted(gen, seq, rec, err) })
	})
	return reply, nil
}

// userAudioStarted 设备打开后的回调
func (m *Machine) userAudioStarted(gen, seq uint64, rec *audio.Recorder, err error) error {
	stale := gen != m.gen || seq != m.acquireSeq || !m.acquiring
	if stale {
		if err == nil {
			m.cfg.Capture.StopUserAudio()
			if m.source == call.SourceAgent {
				m.cfg.Capture.StartAgentAudio()
			}
		}
		return nil
	}
	m.acquiring = false

	if err != nil {
		callErr := &CallError{Kind: KindDeviceAccess, Err: err}
		log.Printf("[call] %v", callErr)
		m.notify("Microphone access denied", "Please allow microphone access to use the voice chat", call.SeverityDestructive)
		return callErr
	}

	if m.agentSpeaking {
		m.disarm(timerAgentSpeaking)
		m.agentSpeaking = false
	}
	m.recorder = rec
	m.userSpeaking = true
	m.source = call.SourceUser
	log.Printf("[call] recording started")
	return nil
}

func (m *Machine) stopUserSpeaking() (<-chan error, error) {
	if !m.recording() {
		return nil, nil
	}
	reply := make(chan error, 1)
	m.finishRecording(reply)
	return reply, nil
}

// finishRecording 释放设备，在循环外生成录音，再由回调发送
func (m *Machine) finishRecording(reply chan<- error) {
	rec := m.recorder
	gen := m.gen
	m.recorder = nil
	m.userSpeaking = false
	m.cfg.Capture.StopUserAudio()
	if m.source == call.SourceUser {
		m.source = call.SourceNone
	}

	go func() {
		payload, err := rec.Finalize()
		if !m.post(func() {
			err := m.sendRecording(gen, payload, err)
			if reply != nil {
				reply <- err
			}
		}) && reply != nil {
			reply <- ErrStopped
		}
	}()
}

func (m *Machine) sendRecording(gen uint64, payload []byte, err error) error {
	if gen != m.gen || m.status != call.StatusActive {
		return nil
	}
	if err != nil {
		log.Printf("[call] finalize recording: %v", err)
		if errors.Is(err, audio.ErrEmptyRecording) {
			return nil
		}
		m.notify("Recording failed", "Your recording could not be prepared: "+err.Error(), call.SeverityWarning)
		return err
	}
	if err := m.transport.SendAudio(payload); err != nil {
		callErr := &CallError{Kind: KindConnection, Err: err}
		log.Printf("[call] send audio: %v", callErr)
		m.notify("Recording not sent", "Could not send your recording: "+err.Error(), call.SeverityDestructive)
		return callErr
	}
	log.Printf("[call] sent recording (%d bytes)", len(payload))
	m.startProcessing()
	return nil
}
