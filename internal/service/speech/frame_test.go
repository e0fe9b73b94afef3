package speech

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAudioFrameSequenceFlags(t *testing.T) {
	f, err := audioFrame([]byte{1, 2}, 2, false)
	require.NoError(t, err)
	require.Equal(t, flagPositiveSeq, f.flags)
	require.Equal(t, int32(2), f.sequence)
	require.False(t, f.last())

	f, err = audioFrame([]byte{1, 2}, 5, true)
	require.NoError(t, err)
	require.Equal(t, flagNegativeSeq, f.flags)
	require.Equal(t, int32(-5), f.sequence)
	require.True(t, f.last())

	f, err = audioFrame(nil, 0, true)
	require.NoError(t, err)
	require.Equal(t, flagLastNoSeq, f.flags)
	require.True(t, f.last())
}

func TestRequestFrameIsGzippedJSON(t *testing.T) {
	f, err := requestFrame(map[string]string{"hello": "world"})
	require.NoError(t, err)

	parsed, err := parseFrame(f.marshal())
	require.NoError(t, err)
	require.Equal(t, fullClientRequest, parsed.kind)
	require.Equal(t, serialJSON, parsed.serial)

	body, err := parsed.body()
	require.NoError(t, err)
	require.JSONEq(t, `{"hello":"world"}`, string(body))
}

func TestParseFrameRejects(t *testing.T) {
	_, err := parseFrame([]byte{0x11, 0x90})
	require.Error(t, err)

	// version 2
	_, err = parseFrame([]byte{0x21, 0x90, 0x00, 0x00, 0, 0, 0, 0})
	require.Error(t, err)

	// payload size larger than the frame
	_, err = parseFrame([]byte{0x11, 0x90, 0x00, 0x00, 0, 0, 0, 9, 1, 2})
	require.Error(t, err)
}

func TestParseFrameSkipsExtendedHeader(t *testing.T) {
	data := []byte{0x12, 0x90, 0x00, 0x00, 0xAA, 0xBB, 0xCC, 0xDD, 0, 0, 0, 2, 'o', 'k'}
	f, err := parseFrame(data)
	require.NoError(t, err)
	require.Equal(t, "ok", string(f.payload))
}

func TestEventFrameMetadata(t *testing.T) {
	f := &frame{
		kind:      fullServerResponse,
		flags:     flagWithEvent,
		serial:    serialJSON,
		event:     eventConnectionStarted,
		connectID: "conn-1",
		payload:   []byte("{}"),
	}
	parsed, err := parseFrame(f.marshal())
	require.NoError(t, err)
	require.Equal(t, eventConnectionStarted, parsed.event)
	require.Equal(t, "conn-1", parsed.connectID)
	require.Empty(t, parsed.sessionID)

	f = &frame{kind: fullServerResponse, flags: flagWithEvent, event: eventSessionFinished, sessionID: "s-1"}
	parsed, err = parseFrame(f.marshal())
	require.NoError(t, err)
	require.Equal(t, "s-1", parsed.sessionID)
	require.Empty(t, parsed.connectID)
}

func TestFrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		kind := rapid.SampledFrom([]messageType{fullServerResponse, audioOnlyResponse, errorResponse}).Draw(t, "kind")
		flags := rapid.SampledFrom([]frameFlags{flagNoSequence, flagPositiveSeq, flagNegativeSeq, flagLastNoSeq, flagWithEvent}).Draw(t, "flags")
		f := &frame{
			kind:     kind,
			flags:    flags,
			compress: compressNone,
			payload:  rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "payload"),
		}
		if f.hasSequence() {
			f.sequence = rapid.Int32().Draw(t, "seq")
		}
		if f.hasEvent() {
			f.event = rapid.SampledFrom([]eventType{eventSessionStarted, eventSessionFinished, eventConnectionFailed}).Draw(t, "event")
			f.sessionID = rapid.StringN(0, 12, -1).Draw(t, "session")
			f.connectID = rapid.StringN(0, 12, -1).Draw(t, "connect")
		}
		if kind == errorResponse {
			f.code = rapid.Uint32().Draw(t, "code")
		}

		got, err := parseFrame(f.marshal())
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if got.kind != f.kind || got.flags != f.flags || got.sequence != f.sequence || got.code != f.code {
			t.Fatalf("header mismatch: %+v vs %+v", got, f)
		}
		if string(got.payload) != string(f.payload) {
			t.Fatalf("payload mismatch")
		}
		if f.hasEvent() {
			if !f.event.skipsSessionID() && got.sessionID != f.sessionID {
				t.Fatalf("session id %q != %q", got.sessionID, f.sessionID)
			}
			if f.event.carriesConnectID() && got.connectID != f.connectID {
				t.Fatalf("connect id %q != %q", got.connectID, f.connectID)
			}
		}
	})
}
