// Package einstein 实现 Einstein 网关的 SSE 流式 generation 接口。
//
// 请求体为 {model, messages, generation_settings}，响应为 event: generation 的 SSE 记录，
// 每条 data 携带 generation_details.generations 数组，以 DONE 结束。
package einstein

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/lgc202/gateway-kit/llm"
	"github.com/lgc202/gateway-kit/llm/internal/transport"
	"github.com/lgc202/gateway-kit/llm/schema"
)

const acceptEventStream = "text/event-stream"

var _ llm.ChatModel = (*Client)(nil)
var _ llm.ProviderNamer = (*Client)(nil)

type Client struct {
	http   *transport.Client
	cfg    Config
	policy llm.AccumulatePolicy
	logger *slog.Logger
}

func New(cfg Config) (*Client, error) {
	policy, err := llm.ParseAccumulatePolicy(cfg.Accumulation)
	if err != nil {
		return nil, fmt.Errorf("einstein: %w", err)
	}
	if strings.TrimSpace(cfg.StreamPath) == "" {
		cfg.StreamPath = DefaultStreamPath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hc, err := transport.New(transport.Config{
		Provider:       llm.ProviderEinstein,
		BaseURL:        cfg.BaseURL,
		Path:           cfg.StreamPath,
		APIKey:         cfg.APIKey,
		DefaultHeaders: cfg.headers(),
		Transport:      cfg.Transport,
		Timeout:        cfg.Timeout,
		Retry:          cfg.Retry,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Client{http: hc, cfg: cfg, policy: policy, logger: logger}, nil
}

func (*Client) Provider() llm.Provider { return llm.ProviderEinstein }

// DefaultMaxTokens 供 llm.Client 在请求未指定 max_tokens 时使用
func (c *Client) DefaultMaxTokens() int {
	if c.cfg.DefaultMaxTokens > 0 {
		return c.cfg.DefaultMaxTokens
	}
	return llm.DefaultMaxTokens
}

// Chat 以流式方式请求并聚合全部 generation
func (c *Client) Chat(ctx context.Context, messages []schema.Message, opts ...llm.RequestOption) (schema.ChatResponse, error) {
	s, err := c.ChatStream(ctx, messages, opts...)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	resp, err := llm.DrainStream(s, c.policy)
	if err != nil {
		var se *llm.StreamError
		if errors.As(err, &se) && se.Provider == "" {
			se.Provider = llm.ProviderEinstein
		}
		return schema.ChatResponse{}, err
	}
	return resp, nil
}

// ChatStream 建立 SSE 连接；非 2xx 响应返回 *llm.APIError，不产生任何事件
func (c *Client) ChatStream(ctx context.Context, messages []schema.Message, opts ...llm.RequestOption) (llm.Stream, error) {
	rc := llm.ApplyRequestOptions(opts...)
	conv := rc.Conversation(messages)

	body, err := c.buildRequest(conv, rc)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.PostJSON(ctx, body, transport.RequestConfig{
		Timeout: rc.Timeout,
		Headers: rc.Headers,
	}, acceptEventStream)
	if err != nil {
		return nil, err
	}
	return newStream(resp.Body, rc.KeepRaw, c.logger), nil
}

type generationRequest struct {
	Model              string             `json:"model"`
	Messages           []wireMessage      `json:"messages"`
	MaxTokens          int                `json:"max_tokens"`
	Temperature        *float64           `json:"temperature,omitempty"`
	GenerationSettings generationSettings `json:"generation_settings"`
	Stream             bool               `json:"stream"`
}

type generationSettings struct {
	MaxTokens   int            `json:"max_tokens"`
	Temperature *float64       `json:"temperature,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Client) buildRequest(messages []schema.Message, rc llm.RequestConfig) (generationRequest, error) {
	model := strings.TrimSpace(rc.Model)
	if model == "" {
		model = strings.TrimSpace(c.cfg.Model)
	}
	if model == "" {
		return generationRequest{}, fmt.Errorf("einstein: %w: model required", llm.ErrInvalidRequest)
	}
	if len(messages) == 0 {
		return generationRequest{}, fmt.Errorf("einstein: %w: messages required", llm.ErrInvalidRequest)
	}

	wire := make([]wireMessage, 0, len(messages))
	for i, m := range messages {
		if !m.Role.Valid() {
			return generationRequest{}, fmt.Errorf("einstein: %w: messages[%d] invalid role %q", llm.ErrInvalidRequest, i, m.Role)
		}
		wire = append(wire, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	var params map[string]any
	if len(c.cfg.Parameters) > 0 || len(rc.ExtraParameters) > 0 {
		params = make(map[string]any, len(c.cfg.Parameters)+len(rc.ExtraParameters))
		maps.Copy(params, c.cfg.Parameters)
		maps.Copy(params, rc.ExtraParameters)
	}

	maxTokens := rc.ResolveMaxTokens(c.cfg.DefaultMaxTokens)
	return generationRequest{
		Model:       model,
		Messages:    wire,
		MaxTokens:   maxTokens,
		Temperature: rc.Temperature,
		GenerationSettings: generationSettings{
			MaxTokens:   maxTokens,
			Temperature: rc.Temperature,
			Parameters:  params,
		},
		Stream: true,
	}, nil
}
