package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrCallInProgress 连接中或通话中再次 StartCall
	ErrCallInProgress = errors.New("call already in progress")
	// ErrNotActive 操作需要进行中的通话
	ErrNotActive = errors.New("call is not active")
	// ErrEmptyMessage 文本为空或只有空白
	ErrEmptyMessage = errors.New("message is empty")
	// ErrStopped 状态机循环已退出
	ErrStopped = errors.New("conversation machine stopped")
	// ErrConnectTimeout 超时仍未建立连接
	ErrConnectTimeout = errors.New("connection did not open in time")
)

// Kind 面向用户的错误分类
type Kind int

const (
	KindDeviceAccess Kind = iota + 1
	KindConnectionTimeout
	KindConnection
	KindUnexpectedClose
	KindServerReported
	KindPlayback
)

func (k Kind) String() string {
	switch k {
	case KindDeviceAccess:
		return "device_access"
	case KindConnectionTimeout:
		return "connection_timeout"
	case KindConnection:
		return "connection"
	case KindUnexpectedClose:
		return "unexpected_close"
	case KindServerReported:
		return "server_reported"
	case KindPlayback:
		return "playback"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// CallError 带分类的错误
type CallError struct {
	Kind Kind
	Err  error
}

func (e *CallError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// KindOf 取出 err 的分类，不是 CallError 时返回 0
func KindOf(err error) Kind {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind
	}
	return 0
}
