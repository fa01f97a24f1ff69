package schema

import "encoding/json"

// StreamEvent 是事件解码器产出的分类结果
//
// 取值只能是 GenerationBatch、DoneSignal、ErrorSignal 或 Unrecognized，
// 调用方通过 type switch 穷举处理。
type StreamEvent interface {
	isStreamEvent()
}

// GenerationBatch 表示一个 generation 数据块，包含按原始顺序排列的若干 Generation
type GenerationBatch struct {
	// ResponseID 是数据块自身的 id（不是 generation id）
	ResponseID  string
	Generations []Generation

	// Parameters 携带 provider、model、usage 等响应级元数据
	Parameters *ResponseParameters

	Raw json.RawMessage
}

func (GenerationBatch) isStreamEvent() {}

// DoneSignal 表示流正常结束
type DoneSignal struct {
	Raw json.RawMessage
}

func (DoneSignal) isStreamEvent() {}

// ErrorSignal 表示上游显式发送的错误事件
type ErrorSignal struct {
	Code    string
	Message string
	Raw     json.RawMessage
}

func (ErrorSignal) isStreamEvent() {}

// Unrecognized 表示无法分类的记录（keep-alive、元数据行、非法 JSON），调用方应忽略
type Unrecognized struct {
	Event string
	Data  string
}

func (Unrecognized) isStreamEvent() {}

// Generation 是一次模型输出在某个数据块中的片段，ID 是聚合键
type Generation struct {
	ID        string
	Role      Role
	Content   string
	Timestamp float64

	FinishReason   FinishReason
	Index          *int
	LogProbability *float64

	ToolInvocations []ToolInvocation
}

// ToolInvocation 表示模型发起的一次工具调用
type ToolInvocation struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ResponseParameters 是 generation_details.parameters 中的响应级元数据
type ResponseParameters struct {
	Provider          string `json:"provider,omitempty"`
	Created           int64  `json:"created,omitempty"`
	Model             string `json:"model,omitempty"`
	SystemFingerprint string `json:"system_fingerprint,omitempty"`
	Object            string `json:"object,omitempty"`
	Usage             *Usage `json:"usage,omitempty"`
}
