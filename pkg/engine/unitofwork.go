package engine

import (
	"context"
	"strings"

	"ensemble/pkg/llm"
	"ensemble/pkg/llmerrors"
	"ensemble/pkg/team"
)

// NewLLMUnitOfWork builds a specialist unit of work over a model client: it
// renders the transcript, completes against the specialist's system prompt,
// and returns the response as a specialist-attributed message delta.
func NewLLMUnitOfWork(name, prompt string, client llm.LLMClient) team.UnitOfWork {
	return func(ctx context.Context, st *team.State) (team.Delta, error) {
		messages := make([]llm.CompletionMessage, 0, len(st.Messages)+1)
		if prompt != "" {
			messages = append(messages, llm.NewSystemMessage(prompt))
		}
		for i := range st.Messages {
			msg := &st.Messages[i]
			role := llm.RoleUser
			if msg.Role == team.RoleAssistant {
				role = llm.RoleAssistant
			}
			content := msg.Content
			if msg.Specialist != "" && msg.Specialist != name {
				content = "[" + msg.Specialist + "] " + content
			}
			messages = append(messages, llm.CompletionMessage{Role: role, Content: content})
		}
		if st.LastError != "" {
			messages = append(messages, llm.NewUserMessage("The previous attempt failed: "+st.LastError+". Correct the problem and try again."))
		}

		resp, err := client.Complete(ctx, llm.NewCompletionRequest(messages))
		if err != nil {
			return team.Delta{}, err
		}
		content := strings.TrimSpace(resp.Content)
		if content == "" {
			return team.Delta{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "specialist "+name+" produced no content")
		}

		return team.Delta{
			Messages:     []team.Message{team.NewSpecialistMessage(name, content)},
			Contributors: []string{name},
		}, nil
	}
}
