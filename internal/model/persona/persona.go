package persona

import "fmt"

// Persona 描述语音代理的人设。
type Persona struct {
	Name    string `json:"name"`
	Welcome string `json:"welcome"`
	// VoiceID 为空时使用语音服务的默认音色
	VoiceID string `json:"voiceId,omitempty"`
}

// SystemPrompt returns the instruction that frames every reply.
func (p Persona) SystemPrompt() string {
	return fmt.Sprintf("Your name is %s. You are a helpful AI assistant in a voice conversation. "+
		"Keep your responses conversational, helpful, and concise.", p.Name)
}
