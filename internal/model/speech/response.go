package speech

import "time"

// Transcript is the recognizer output for one recording.
type Transcript struct {
	SessionID  string    `json:"sessionId"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Duration   int64     `json:"duration"` // milliseconds
	RequestID  string    `json:"requestId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Synthesis is playable audio produced for one text.
type Synthesis struct {
	SessionID string    `json:"sessionId"`
	Audio     []byte    `json:"-"`
	Duration  int64     `json:"duration"` // milliseconds
	Format    string    `json:"format"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// MIMEType maps the synthesis format onto an HTTP content type.
func (s *Synthesis) MIMEType() string {
	switch s.Format {
	case "wav":
		return "audio/wav"
	case "pcm":
		return "audio/L16"
	case "ogg_opus":
		return "audio/ogg"
	default:
		return "audio/mpeg"
	}
}
