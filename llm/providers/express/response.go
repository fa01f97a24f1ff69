package express

import (
	"strconv"
	"time"

	"github.com/lgc202/gateway-kit/llm/schema"
)

type completionResponse struct {
	ID                string `json:"id"`
	Object            string `json:"object"`
	Created           int64  `json:"created"`
	Model             string `json:"model"`
	SystemFingerprint string `json:"system_fingerprint"`

	Choices []completionChoice `json:"choices"`
	Usage   *schema.Usage      `json:"usage,omitempty"`
}

type completionChoice struct {
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
	Message      struct {
		Role      string `json:"role"`
		Content   string `json:"content"`
		ToolCalls []struct {
			ID       string `json:"id"`
			Function struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
}

func (r completionResponse) createdAt() time.Time {
	if r.Created <= 0 {
		return time.Time{}
	}
	return time.Unix(r.Created, 0).UTC()
}

// generationID 为每个 choice 生成稳定的聚合键
func (r completionResponse) generationID(index int) string {
	id := r.ID
	if id == "" {
		id = "express"
	}
	return id + "-" + strconv.Itoa(index)
}

func (r completionResponse) toSchema() schema.ChatResponse {
	out := schema.ChatResponse{
		ID:        r.ID,
		Model:     r.Model,
		CreatedAt: r.createdAt(),
		Choices:   make([]schema.Choice, 0, len(r.Choices)),
	}
	if r.Usage != nil {
		out.Usage = *r.Usage
	}
	for _, c := range r.Choices {
		role := schema.Role(c.Message.Role)
		if role == "" {
			role = schema.RoleAssistant
		}
		ch := schema.Choice{
			Index:        c.Index,
			GenerationID: r.generationID(c.Index),
			Message:      schema.Message{Role: role, Content: c.Message.Content},
			FinishReason: schema.FinishReason(c.FinishReason),
		}
		for _, tc := range c.Message.ToolCalls {
			ch.ToolInvocations = append(ch.ToolInvocations, schema.ToolInvocation{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		out.Choices = append(out.Choices, ch)
	}
	return out
}
