package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/voicecall/internal/model/call"
)

// DefaultFrameInterval 约等于一次屏幕刷新
const DefaultFrameInterval = 16 * time.Millisecond

// CaptureOptions Capture 配置
type CaptureOptions struct {
	Device        Device
	FrameInterval time.Duration
	// Seed 合成波形的随机种子
	Seed uint64
}

// Capture 持有输入设备和可视化快照流。
// 麦克风与合成波形同一时刻最多一个在工作，启动一个会停掉另一个。
type Capture struct {
	device   Device
	interval time.Duration
	waveform *SpeechWaveform
	analyser *Analyser

	mu       sync.Mutex
	source   call.VisualizationSource
	stream   io.ReadCloser
	cancel   context.CancelFunc
	done     chan struct{}
	window   []float64
	latest   *call.Snapshot
	frames   chan call.Snapshot
	starting bool
}

// NewCapture 创建空闲的 Capture
func NewCapture(opts CaptureOptions) *Capture {
	interval := opts.FrameInterval
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	device := opts.Device
	if device == nil {
		device = &CommandDevice{}
	}
	return &Capture{
		device:   device,
		interval: interval,
		waveform: NewSpeechWaveform(opts.Seed),
		analyser: NewAnalyser(),
		frames:   make(chan call.Snapshot, 1),
	}
}

// StartUserAudio 打开输入设备并开始发布快照，sink 非空时同时写入 PCM。
// 麦克风已在工作时什么也不做，也不替换 sink。
func (c *Capture) StartUserAudio(ctx context.Context, sink io.Writer) error {
	c.mu.Lock()
	if c.source == call.SourceUser || c.starting {
		c.mu.Unlock()
		return nil
	}
	c.starting = true
	c.mu.Unlock()

	stream, err := c.device.Open(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !errors.Is(err, ErrDeviceAccess) {
			err = fmt.Errorf("%w: %v", ErrDeviceAccess, err)
		}
		return err
	}

	c.stopLocked()
	c.analyser.Reset()
	c.window = make([]float64, 0, FFTSize)

	loopCtx, cancel := context.WithCancel(context.Background())
	c.source = call.SourceUser
	c.stream = stream
	c.cancel = cancel
	c.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.readLoop(loopCtx, stream, sink)
	}()
	go func() {
		defer wg.Done()
		c.tick(loopCtx, c.userFrame)
	}()
	done := c.done
	go func() {
		wg.Wait()
		close(done)
	}()

	log.Printf("[capture] microphone started")
	return nil
}

// StopUserAudio 释放设备，随时可调用
func (c *Capture) StopUserAudio() {
	c.mu.Lock()
	if c.source != call.SourceUser {
		c.mu.Unlock()
		return
	}
	done := c.stopLocked()
	c.latest = nil
	c.mu.Unlock()

	if done != nil {
		<-done
	}
	log.Printf("[capture] microphone released")
}

// StartAgentAudio 开始合成波形，替换当前任何数据源（包括上一段合成波形）
func (c *Capture) StartAgentAudio() {
	c.mu.Lock()
	done := c.stopLocked()
	c.mu.Unlock()
	if done != nil {
		<-done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	loopCtx, cancel := context.WithCancel(context.Background())
	c.source = call.SourceAgent
	c.cancel = cancel
	c.done = make(chan struct{})
	done = c.done
	go func() {
		defer close(done)
		c.tick(loopCtx, c.agentFrame)
	}()
}

// StopAgentAudio 停止合成波形并清除最后的快照
func (c *Capture) StopAgentAudio() {
	c.mu.Lock()
	if c.source != call.SourceAgent {
		c.mu.Unlock()
		return
	}
	done := c.stopLocked()
	c.latest = nil
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Probe 打开后立即释放设备，用于检查权限
func (c *Capture) Probe(ctx context.Context) error {
	c.mu.Lock()
	active := c.source == call.SourceUser
	c.mu.Unlock()
	if active {
		return nil
	}
	stream, err := c.device.Open(ctx)
	if err != nil {
		return err
	}
	return stream.Close()
}

// Source 当前可视化数据源
func (c *Capture) Source() call.VisualizationSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// Latest 最近一次快照
func (c *Capture) Latest() (call.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return call.Snapshot{}, false
	}
	return *c.latest, true
}

// Snapshots 快照流，读得慢只能拿到最新的
func (c *Capture) Snapshots() <-chan call.Snapshot {
	return c.frames
}

// stopLocked 停掉当前数据源，返回的 channel 在其 goroutine 退出后关闭。
// 调用方释放 c.mu 后再等待。
func (c *Capture) stopLocked() chan struct{} {
	if c.source == call.SourceNone {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.stream != nil {
		if err := c.stream.Close(); err != nil {
			log.Printf("[capture] close device: %v", err)
		}
	}
	done := c.done
	c.source = call.SourceNone
	c.stream = nil
	c.cancel = nil
	c.done = nil
	return done
}

func (c *Capture) readLoop(ctx context.Context, stream io.Reader, sink io.Writer) {
	buf := make([]byte, 3200)
	var odd []byte
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if sink != nil {
				if _, werr := sink.Write(chunk); werr != nil && ctx.Err() == nil {
					log.Printf("[capture] sink write: %v", werr)
				}
			}
			if len(odd) > 0 {
				chunk = append(odd, chunk...)
				odd = nil
			}
			if len(chunk)%BytesPerSample != 0 {
				odd = []byte{chunk[len(chunk)-1]}
			}
			samples := DecodePCM16(chunk)
			c.mu.Lock()
			if ctx.Err() != nil {
				c.mu.Unlock()
				return
			}
			c.window = append(c.window, samples...)
			if len(c.window) > FFTSize {
				c.window = append(c.window[:0], c.window[len(c.window)-FFTSize:]...)
			}
			c.mu.Unlock()
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				log.Printf("[capture] read: %v", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *Capture) tick(ctx context.Context, frame func(time.Time) call.Snapshot) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snapshot := frame(now)
			c.mu.Lock()
			if ctx.Err() != nil {
				c.mu.Unlock()
				return
			}
			c.latest = &snapshot
			c.mu.Unlock()
			c.publish(snapshot)
		}
	}
}

func (c *Capture) userFrame(time.Time) call.Snapshot {
	c.mu.Lock()
	window := append([]float64(nil), c.window...)
	c.mu.Unlock()
	return c.analyser.Analyse(window)
}

func (c *Capture) agentFrame(now time.Time) call.Snapshot {
	return c.waveform.At(now)
}

func (c *Capture) publish(snapshot call.Snapshot) {
	select {
	case c.frames <- snapshot:
		return
	default:
	}
	select {
	case <-c.frames:
	default:
	}
	select {
	case c.frames <- snapshot:
	default:
	}
}
