package speech

// TranscriptionRequest carries one finalized recording to the recognizer.
type TranscriptionRequest struct {
	SessionID string `json:"sessionId"`
	Audio     []byte `json:"-"`
	Format    string `json:"format"`   // wav, pcm, mp3
	Language  string `json:"language"` // en-US, zh-CN
}

// SynthesisRequest asks the synthesizer to voice one reply.
type SynthesisRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`
	Speed     float32 `json:"speed"`
	Volume    float32 `json:"volume"`
	Format    string  `json:"format"`
	Language  string  `json:"language"`
}
