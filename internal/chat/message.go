// Package chat owns persisted conversation state and the bounded context
// views built from it.
package chat

import (
	"strings"
	"unicode"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation entry. Messages are immutable once
// appended; ordering is the append order.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is a snapshot of one model's message history. The first
// message, if any, is always the system preamble.
type Conversation struct {
	Key      string
	Messages []Message
}

// NormalizeModelKey derives the conversation key from a raw model name:
// the colon-tag suffix is dropped and the remainder is capitalized, so
// "llama3:8b" and "LLAMA3" both map to "Llama3".
func NormalizeModelKey(model string) string {
	name := strings.TrimSpace(model)
	if idx := strings.Index(name, ":"); idx >= 0 {
		name = name[:idx]
	}
	if name == "" {
		return ""
	}

	name = strings.ToLower(name)
	runes := []rune(name)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
