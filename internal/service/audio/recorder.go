package audio

import (
	"bytes"
	"errors"
	"sync"
)

var (
	// ErrRecorderClosed Finalize 之后再 Write
	ErrRecorderClosed = errors.New("recorder already finalized")
	// ErrEmptyRecording 没有录到任何音频
	ErrEmptyRecording = errors.New("recording is empty")
)

// Recorder 缓存一句话的 PCM 数据
type Recorder struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	finalized bool
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Write appends a chunk of s16le PCM.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return 0, ErrRecorderClosed
	}
	return r.buf.Write(p)
}

// Len reports the buffered PCM size in bytes.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Len()
}

// Finalize 关闭 Recorder 并返回整段 WAV，之后再调用返回 ErrRecorderClosed
func (r *Recorder) Finalize() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return nil, ErrRecorderClosed
	}
	r.finalized = true
	if r.buf.Len() == 0 {
		return nil, ErrEmptyRecording
	}
	// 丢弃不完整的末尾采样
	pcm := r.buf.Bytes()
	pcm = pcm[:len(pcm)-len(pcm)%BytesPerSample]
	payload := EncodeWAV(pcm, SampleRate, 1)
	r.buf.Reset()
	return payload, nil
}
