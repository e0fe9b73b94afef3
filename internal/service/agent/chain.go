package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/voicecall/internal/model/chat"
	"github.com/zhouzirui/voicecall/internal/model/persona"
)

// historyLimit 限制送入模型的历史轮数
const historyLimit = 10

// ChainResponder 通过 eino chain（提示模板 + 聊天模型）生成回复
type ChainResponder struct {
	persona persona.Persona
	chain   compose.Runnable[map[string]any, *schema.Message]
}

var _ Responder = (*ChainResponder)(nil)

// NewChainResponder 把提示模板和聊天模型编译成可执行的 chain
func NewChainResponder(ctx context.Context, chatModel model.ChatModel, p persona.Persona) (*ChainResponder, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChainResponder{persona: p, chain: runnable}, nil
}

// Reply 基于历史记录和新的用户输入运行 chain
func (r *ChainResponder) Reply(ctx context.Context, sessionID string, history []chat.Message, query string) (string, error) {
	input := map[string]any{
		"system":  r.persona.SystemPrompt(),
		"history": buildHistoryMessages(history),
		"query":   query,
	}

	response, err := r.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	text := strings.TrimSpace(response.Content)
	if text == "" {
		return "", fmt.Errorf("empty model response")
	}

	log.Printf("[agent] generated response for session=%s, length=%d", sessionID, len(text))
	return text, nil
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	start := 0
	if len(messages) > historyLimit {
		start = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
