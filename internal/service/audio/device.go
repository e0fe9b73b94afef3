package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

// ErrDeviceAccess 无法打开输入设备（没有权限或设备不存在）
var ErrDeviceAccess = errors.New("audio input device unavailable")

const (
	// SampleRate 采样率，单声道 16 位小端
	SampleRate = 16000
	// BytesPerSample for s16le mono.
	BytesPerSample = 2
)

// Device 音频输入，返回的流在关闭前持续输出 s16le 单声道 PCM
type Device interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// CommandDevice 通过外部录音进程（如 ffmpeg）采集麦克风，PCM 从 stdout 读出
type CommandDevice struct {
	// Command 覆盖默认录音命令，经 /bin/sh -c 执行
	Command string
	// StartTimeout 等待首批 PCM 的超时
	StartTimeout time.Duration
}

// DefaultCaptureCommand 当前平台的 ffmpeg 命令
func DefaultCaptureCommand() string {
	input := "-f pulse -i default"
	if runtime.GOOS == "darwin" {
		input = "-f avfoundation -i none:0"
	}
	return fmt.Sprintf("ffmpeg -hide_banner -loglevel error %s -ac 1 -ar %d -f s16le -", input, SampleRate)
}

// Open 启动录音进程并等到有音频输出。
// 进程退出或超过 StartTimeout 仍无输出时返回 ErrDeviceAccess。
func (d *CommandDevice) Open(ctx context.Context) (io.ReadCloser, error) {
	command := strings.TrimSpace(d.Command)
	if command == "" {
		command = DefaultCaptureCommand()
	}
	timeout := d.StartTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	cmd := exec.Command("/bin/sh", "-c", command)
	setProcessGroup(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceAccess, err)
	}
	stderr, _ := cmd.StderrPipe()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start recorder: %v", ErrDeviceAccess, err)
	}

	var (
		stderrMu   sync.Mutex
		stderrTail string
	)
	go func() {
		if stderr == nil {
			return
		}
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrMu.Lock()
			stderrTail = scanner.Text()
			stderrMu.Unlock()
			log.Printf("[capture] recorder: %s", scanner.Text())
		}
	}()

	stream := &commandStream{cmd: cmd, reader: bufio.NewReaderSize(stdout, 64*1024)}

	first := make(chan error, 1)
	go func() {
		_, err := stream.reader.Peek(BytesPerSample)
		first <- err
	}()

	select {
	case err := <-first:
		if err == nil {
			return stream, nil
		}
		_ = stream.Close()
		stderrMu.Lock()
		detail := stderrTail
		stderrMu.Unlock()
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("%w: %s", ErrDeviceAccess, detail)
	case <-time.After(timeout):
		_ = stream.Close()
		return nil, fmt.Errorf("%w: recorder produced no audio within %s", ErrDeviceAccess, timeout)
	case <-ctx.Done():
		_ = stream.Close()
		return nil, ctx.Err()
	}
}

type commandStream struct {
	cmd    *exec.Cmd
	reader *bufio.Reader
	once   sync.Once
}

func (s *commandStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *commandStream) Close() error {
	s.once.Do(func() {
		if s.cmd.Process != nil {
			_ = killProcessGroup(s.cmd)
		}
		_ = s.cmd.Wait()
	})
	return nil
}
