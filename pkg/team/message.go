// Package team defines the shared conversation state and the specialist
// contract for the orchestration engine.
package team

import "time"

// Role tags the author kind of a conversation message.
type Role string

const (
	// RoleUser marks input from the human user.
	RoleUser Role = "user"
	// RoleAssistant marks output produced by a specialist.
	RoleAssistant Role = "assistant"
	// RoleSystem marks synthetic messages injected by the engine
	// (failure notices, termination notices).
	RoleSystem Role = "system"
)

// Message is one entry in the turn's append-only transcript.
type Message struct {
	Role       Role      `json:"role"`
	Specialist string    `json:"specialist,omitempty"` // Attribution; empty for user messages
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewUserMessage builds a user-authored message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, CreatedAt: time.Now().UTC()}
}

// NewSpecialistMessage builds a specialist-attributed assistant message.
func NewSpecialistMessage(specialist, content string) Message {
	return Message{
		Role:       RoleAssistant,
		Specialist: specialist,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
}
