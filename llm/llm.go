package llm

import (
	"context"

	"github.com/lgc202/gateway-kit/llm/schema"
)

// ChatModel 是与具体网关无关的最小对话接口
type ChatModel interface {
	Chat(ctx context.Context, messages []schema.Message, opts ...RequestOption) (schema.ChatResponse, error)
	ChatStream(ctx context.Context, messages []schema.Message, opts ...RequestOption) (Stream, error)
}

// Stream 是与具体网关无关的流式读取器
//
// Recv 每次返回一个已分类的 schema.StreamEvent，流正常结束时返回 io.EOF。
// 实现不应向调用方返回 schema.Unrecognized，这类记录在解码层直接丢弃。
type Stream interface {
	Recv() (schema.StreamEvent, error)
	Close() error
}

// Provider 是网关的规范标识
type Provider string

const (
	ProviderUnknown  Provider = "unknown"
	ProviderEinstein Provider = "einstein"
	ProviderExpress  Provider = "express"
)

// ProviderNamer 是可选接口，用于识别 ChatModel 背后的网关
type ProviderNamer interface {
	Provider() Provider
}

func ProviderOf(m ChatModel) Provider {
	if p, ok := m.(ProviderNamer); ok {
		if p.Provider() != "" {
			return p.Provider()
		}
	}
	return ProviderUnknown
}
