package generator

import (
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser marks a message written by the student.
	RoleUser Role = "user"
	// RoleAssistant marks a message written by the assistant.
	RoleAssistant Role = "assistant"
	// RoleSystem marks an instruction message.
	RoleSystem Role = "system"
)

// Message is one turn of conversation history supplied by the caller.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ParseRole validates a role string from an API request. Anything other than
// user, assistant, or system is rejected.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant, RoleSystem:
		return Role(s), nil
	}
	return "", fmt.Errorf("generator: invalid role %q — valid values: user, assistant, system", s)
}

// toSchema converts a caller-supplied history message into an eino message.
func (m Message) toSchema() *schema.Message {
	switch m.Role {
	case RoleAssistant:
		return schema.AssistantMessage(m.Content, nil)
	case RoleSystem:
		return schema.SystemMessage(m.Content)
	default:
		return schema.UserMessage(m.Content)
	}
}
