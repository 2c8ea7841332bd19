// Package agent runs the conversation between the operator, the language
// model and the debugger tools.
package agent

import (
	"sync"

	"github.com/ctagard/lldb-agent/pkg/types"
)

// DefaultSystemPrompt opens every conversation
const DefaultSystemPrompt = `You are a helpful assistant that can help with debugging a program.
Feel free to use available tools.
The user will provide a command and you will need to help them with it.
Only call the tools needed for the most recent user message`

// Conversation is the ordered message history of one chat. It is owned by
// the caller and passed into every turn.
type Conversation struct {
	mu       sync.Mutex
	messages []types.ChatMessage
}

// NewConversation starts a history with a system message. An empty prompt
// starts an empty history.
func NewConversation(systemPrompt string) *Conversation {
	c := &Conversation{}
	if systemPrompt != "" {
		c.messages = append(c.messages, types.SystemMessage(systemPrompt))
	}
	return c
}

// Append adds messages at the end of the history
func (c *Conversation) Append(msgs ...types.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
}

// Messages returns a copy of the history in order
func (c *Conversation) Messages() []types.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.ChatMessage(nil), c.messages...)
}

// Len returns the number of messages
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}
