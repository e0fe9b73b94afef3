package agent

import (
	"context"
	"log"
	"math/rand/v2"
	"strings"

	"github.com/zhouzirui/voicecall/internal/model/chat"
)

// Apology 是生成失败时返回给用户的固定回复。
const Apology = "I'm sorry, I encountered an error while processing your request."

// Responder produces the agent's next utterance.
type Responder interface {
	Reply(ctx context.Context, sessionID string, history []chat.Message, query string) (string, error)
}

var cannedReplies = []string{
	"I understand your concern. Let me help you with that.",
	"Thanks for providing that information. Is there anything else you'd like to know?",
	"I'm checking our system for that information. One moment please.",
	"That's a great question. Here's what I can tell you.",
	"I'd be happy to assist with your request.",
}

// CannedResponder 在没有模型凭证时使用，随机挑选一句预设回复。
type CannedResponder struct {
	pick func(n int) int
}

// NewCannedResponder returns a responder over the built-in reply list.
func NewCannedResponder() *CannedResponder {
	return &CannedResponder{pick: rand.IntN}
}

func (c *CannedResponder) Reply(_ context.Context, _ string, _ []chat.Message, _ string) (string, error) {
	return cannedReplies[c.pick(len(cannedReplies))], nil
}

// Respond 调用 responder，任何错误或空回复都映射为 Apology。
func Respond(ctx context.Context, r Responder, sessionID string, history []chat.Message, query string) string {
	text, err := r.Reply(ctx, sessionID, history, query)
	if err != nil {
		log.Printf("[agent] reply failed for session=%s: %v", sessionID, err)
		return Apology
	}
	if strings.TrimSpace(text) == "" {
		return Apology
	}
	return text
}
