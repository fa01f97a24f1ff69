package schema

import (
	"encoding/json"
	"time"
)

// FinishReason 表示生成结束的原因
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"           // 自然结束
	FinishReasonLength        FinishReason = "length"         // 达到最大长度
	FinishReasonToolCalls     FinishReason = "tool_calls"     // 调用工具
	FinishReasonContentFilter FinishReason = "content_filter" // 内容过滤
)

// Choice 表示一个聚合后的 generation
type Choice struct {
	Index           int              `json:"index" yaml:"index"`
	GenerationID    string           `json:"generation_id,omitempty" yaml:"generation_id,omitempty"`
	Message         Message          `json:"message" yaml:"message"`
	FinishReason    FinishReason     `json:"finish_reason,omitempty" yaml:"finish_reason,omitempty"`
	ToolInvocations []ToolInvocation `json:"tool_invocations,omitempty" yaml:"tool_invocations,omitempty"`
}

type ChatResponse struct {
	ID        string    `json:"id,omitempty" yaml:"id,omitempty"`
	Model     string    `json:"model,omitempty" yaml:"model,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`

	Choices []Choice `json:"choices" yaml:"choices"`
	Usage   Usage    `json:"usage" yaml:"usage"`

	// Raw 保留 provider 原生载荷，用于调试/向前兼容
	Raw json.RawMessage `json:"raw,omitempty" yaml:"-"`
}

// FirstText 返回第一个候选项的文本，没有候选项时返回空串
func (r ChatResponse) FirstText() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Messages 按顺序返回所有候选项的消息
func (r ChatResponse) Messages() []Message {
	if len(r.Choices) == 0 {
		return nil
	}
	out := make([]Message, 0, len(r.Choices))
	for _, c := range r.Choices {
		out = append(out, c.Message)
	}
	return out
}
