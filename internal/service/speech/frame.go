package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// 火山引擎语音 WebSocket 二进制帧：
//
//	byte0: version(4) | header size in words(4)
//	byte1: message type(4) | flags(4)
//	byte2: serialization(4) | compression(4)
//	byte3: reserved
//
// 之后依次是可选 sequence、可选事件元数据、错误码（仅错误帧）、payload size 和 payload。
const protocolVersion = 0b0001

type messageType uint8

const (
	fullClientRequest  messageType = 0b0001
	audioOnlyRequest   messageType = 0b0010
	fullServerResponse messageType = 0b1001
	audioOnlyResponse  messageType = 0b1011
	errorResponse      messageType = 0b1111
)

type frameFlags uint8

const (
	flagNoSequence   frameFlags = 0b0000
	flagPositiveSeq  frameFlags = 0b0001
	flagLastNoSeq    frameFlags = 0b0010
	flagNegativeSeq  frameFlags = 0b0011
	flagWithEvent    frameFlags = 0b0100
	sequenceFlagMask frameFlags = 0b0011
)

type eventType int32

const (
	eventStartConnection    eventType = 1
	eventFinishConnection   eventType = 2
	eventConnectionStarted  eventType = 50
	eventConnectionFailed   eventType = 51
	eventConnectionFinished eventType = 52
	eventSessionStarted     eventType = 150
	eventSessionFinished    eventType = 152
	eventSessionFailed      eventType = 153
)

const (
	serialNone uint8 = 0b0000
	serialJSON uint8 = 0b0001

	compressNone uint8 = 0b0000
	compressGzip uint8 = 0b0001
)

type frame struct {
	kind      messageType
	flags     frameFlags
	serial    uint8
	compress  uint8
	sequence  int32
	event     eventType
	sessionID string
	connectID string
	code      uint32
	payload   []byte
}

// requestFrame 把请求体序列化为 gzip 压缩的 JSON。
func requestFrame(body any) (*frame, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	packed, err := gzipBytes(raw)
	if err != nil {
		return nil, err
	}
	return &frame{kind: fullClientRequest, serial: serialJSON, compress: compressGzip, payload: packed}, nil
}

// audioFrame 构造一包音频，最后一包使用负序号。
func audioFrame(chunk []byte, sequence int32, last bool) (*frame, error) {
	packed, err := gzipBytes(chunk)
	if err != nil {
		return nil, err
	}
	f := &frame{kind: audioOnlyRequest, serial: serialNone, compress: compressGzip, payload: packed, sequence: sequence}
	switch {
	case last && sequence != 0:
		f.flags = flagNegativeSeq
		f.sequence = -sequence
	case last:
		f.flags = flagLastNoSeq
	case sequence > 0:
		f.flags = flagPositiveSeq
	}
	return f, nil
}

func (f *frame) hasSequence() bool {
	s := f.flags & sequenceFlagMask
	return s == flagPositiveSeq || s == flagNegativeSeq
}

func (f *frame) hasEvent() bool {
	return f.flags&flagWithEvent != 0
}

// last 判断是否为最后一包
func (f *frame) last() bool {
	s := f.flags & sequenceFlagMask
	return s == flagLastNoSeq || s == flagNegativeSeq
}

// body 返回解压后的 payload。
func (f *frame) body() ([]byte, error) {
	switch f.compress {
	case compressNone:
		return f.payload, nil
	case compressGzip:
		return gunzipBytes(f.payload)
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", f.compress)
	}
}

func (f *frame) marshal() []byte {
	var buf bytes.Buffer
	buf.WriteByte(protocolVersion<<4 | 0b0001)
	buf.WriteByte(uint8(f.kind)<<4 | uint8(f.flags))
	buf.WriteByte(f.serial<<4 | f.compress)
	buf.WriteByte(0)

	putUint32 := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	putString := func(s string) {
		putUint32(uint32(len(s)))
		buf.WriteString(s)
	}

	if f.hasSequence() {
		putUint32(uint32(f.sequence))
	}
	if f.hasEvent() {
		putUint32(uint32(f.event))
		if !f.event.skipsSessionID() {
			putString(f.sessionID)
		}
		if f.event.carriesConnectID() {
			putString(f.connectID)
		}
	}
	if f.kind == errorResponse {
		putUint32(f.code)
	}
	putUint32(uint32(len(f.payload)))
	buf.Write(f.payload)
	return buf.Bytes()
}

func parseFrame(data []byte) (*frame, error) {
	r := bytes.NewReader(data)

	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if version := head[0] >> 4; version != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}
	// header size 以 4 字节为单位，超出部分跳过
	if extra := int(head[0]&0x0F)*4 - 4; extra > 0 {
		if _, err := r.Seek(int64(extra), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip extended header: %w", err)
		}
	}

	f := &frame{
		kind:     messageType(head[1] >> 4),
		flags:    frameFlags(head[1] & 0x0F),
		serial:   head[2] >> 4,
		compress: head[2] & 0x0F,
	}

	readUint32 := func(what string) (uint32, error) {
		var v uint32
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return 0, fmt.Errorf("read %s: %w", what, err)
		}
		return v, nil
	}
	readString := func(what string) (string, error) {
		size, err := readUint32(what + " size")
		if err != nil {
			return "", err
		}
		if int64(size) > int64(r.Len()) {
			return "", fmt.Errorf("read %s: size %d exceeds frame", what, size)
		}
		b := make([]byte, size)
		if _, err := io.ReadFull(r, b); err != nil {
			return "", fmt.Errorf("read %s: %w", what, err)
		}
		return string(b), nil
	}

	if f.hasSequence() {
		seq, err := readUint32("sequence")
		if err != nil {
			return nil, err
		}
		f.sequence = int32(seq)
	}
	if f.hasEvent() {
		ev, err := readUint32("event")
		if err != nil {
			return nil, err
		}
		f.event = eventType(int32(ev))
		if !f.event.skipsSessionID() {
			if f.sessionID, err = readString("session id"); err != nil {
				return nil, err
			}
		}
		if f.event.carriesConnectID() {
			if f.connectID, err = readString("connect id"); err != nil {
				return nil, err
			}
		}
	}
	if f.kind == errorResponse {
		code, err := readUint32("error code")
		if err != nil {
			return nil, err
		}
		f.code = code
	}

	size, err := readUint32("payload size")
	if err != nil {
		return nil, err
	}
	if int64(size) > int64(r.Len()) {
		return nil, fmt.Errorf("read payload: expected %d bytes, have %d", size, r.Len())
	}
	if size > 0 {
		f.payload = make([]byte, size)
		if _, err := io.ReadFull(r, f.payload); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}
	return f, nil
}

func (e eventType) skipsSessionID() bool {
	switch e {
	case eventStartConnection, eventFinishConnection,
		eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return true
	}
	return false
}

func (e eventType) carriesConnectID() bool {
	switch e {
	case eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return true
	}
	return false
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}
	return out, nil
}
