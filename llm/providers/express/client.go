// Package express 实现 LLM Express 网关的 chat-completion 接口（非流式）。
//
// ChatStream 把一次完整响应适配为单数据块的流，使 llm.Session 与 llm.Client
// 对两种网关的处理方式一致。
package express

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/lgc202/gateway-kit/httpx"
	"github.com/lgc202/gateway-kit/llm"
	"github.com/lgc202/gateway-kit/llm/internal/transport"
	"github.com/lgc202/gateway-kit/llm/schema"
)

const (
	DefaultPath = "/chat/completions"

	headerProvider = "x-llm-provider"
	acceptJSON     = "application/json"
)

var _ llm.ChatModel = (*Client)(nil)
var _ llm.ProviderNamer = (*Client)(nil)

type Config struct {
	BaseURL string `mapstructure:"base_url"`
	Path    string `mapstructure:"path"`
	APIKey  string `mapstructure:"api_key"`

	Model            string `mapstructure:"model"`
	DefaultMaxTokens int    `mapstructure:"default_max_tokens"`
	ProviderRouting  string `mapstructure:"provider_routing"`

	Timeout time.Duration `mapstructure:"timeout"`

	DefaultHeaders http.Header        `mapstructure:"-"`
	Transport      http.RoundTripper  `mapstructure:"-"`
	Retry          *httpx.RetryConfig `mapstructure:"-"`
	Logger         *slog.Logger       `mapstructure:"-"`
}

type Client struct {
	http   *transport.Client
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = DefaultPath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	headers := cfg.DefaultHeaders.Clone()
	if cfg.ProviderRouting != "" {
		if headers == nil {
			headers = make(http.Header)
		}
		headers.Set(headerProvider, cfg.ProviderRouting)
	}

	hc, err := transport.New(transport.Config{
		Provider:       llm.ProviderExpress,
		BaseURL:        cfg.BaseURL,
		Path:           cfg.Path,
		APIKey:         cfg.APIKey,
		DefaultHeaders: headers,
		Transport:      cfg.Transport,
		Timeout:        cfg.Timeout,
		Retry:          cfg.Retry,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Client{http: hc, cfg: cfg, logger: logger}, nil
}

func (*Client) Provider() llm.Provider { return llm.ProviderExpress }

// DefaultMaxTokens 只返回配置值；为 0 时请求体不带 max_tokens
func (c *Client) DefaultMaxTokens() int {
	return max(c.cfg.DefaultMaxTokens, 0)
}

func (c *Client) Chat(ctx context.Context, messages []schema.Message, opts ...llm.RequestOption) (schema.ChatResponse, error) {
	rc := llm.ApplyRequestOptions(opts...)
	payload, err := c.buildRequest(rc.Conversation(messages), rc)
	if err != nil {
		return schema.ChatResponse{}, err
	}

	resp, err := c.http.PostJSON(ctx, payload, transport.RequestConfig{
		Timeout: rc.Timeout,
		Headers: rc.Headers,
	}, acceptJSON)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	var raw bytes.Buffer
	if rc.KeepRaw {
		body = io.TeeReader(resp.Body, &raw)
	}

	var out completionResponse
	if err := httpx.DecodeJSON(body, &out); err != nil {
		return schema.ChatResponse{}, fmt.Errorf("%s: decode response: %w", llm.ProviderExpress, err)
	}

	cr := out.toSchema()
	if rc.KeepRaw {
		cr.Raw = raw.Bytes()
	}
	if sf := rc.StreamingFunc; sf != nil {
		if text := cr.FirstText(); text != "" {
			if err := sf(ctx, text); err != nil {
				return schema.ChatResponse{}, err
			}
		}
	}
	return cr, nil
}

// ChatStream 发送一次非流式请求，并把结果包装为 GenerationBatch + DoneSignal
//
// StreamingFunc 不在这里调用，由消费流的 Session 负责。
func (c *Client) ChatStream(ctx context.Context, messages []schema.Message, opts ...llm.RequestOption) (llm.Stream, error) {
	opts = append(opts[:len(opts):len(opts)], func(rc *llm.RequestConfig) { rc.StreamingFunc = nil })
	resp, err := c.Chat(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("express: adapted completion to stream", "choices", len(resp.Choices))
	return newOneShotStream(resp), nil
}

type completionRequest struct {
	Model       string
	Messages    []wireMessage
	MaxTokens   int
	Temperature *float64
	Extra       map[string]any
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// payload 把 ExtraParameters 平铺到顶层，已知字段优先
func (r completionRequest) payload() map[string]any {
	m := make(map[string]any, len(r.Extra)+5)
	maps.Copy(m, r.Extra)
	m["model"] = r.Model
	m["messages"] = r.Messages
	m["stream"] = false
	if r.MaxTokens > 0 {
		m["max_tokens"] = r.MaxTokens
	}
	if r.Temperature != nil {
		m["temperature"] = *r.Temperature
	}
	return m
}

// maxTokens 按 请求选项 > 配置 取值，两者都未设置时返回 0
func (c *Client) maxTokens(rc llm.RequestConfig) int {
	if rc.MaxTokens != nil && *rc.MaxTokens > 0 {
		return *rc.MaxTokens
	}
	return max(c.cfg.DefaultMaxTokens, 0)
}

func (c *Client) buildRequest(messages []schema.Message, rc llm.RequestConfig) (map[string]any, error) {
	model := strings.TrimSpace(rc.Model)
	if model == "" {
		model = strings.TrimSpace(c.cfg.Model)
	}
	if model == "" {
		return nil, fmt.Errorf("%s: %w: model required", llm.ProviderExpress, llm.ErrInvalidRequest)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("%s: %w: messages required", llm.ProviderExpress, llm.ErrInvalidRequest)
	}
	wire := make([]wireMessage, 0, len(messages))
	for i, m := range messages {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("%s: %w: messages[%d] invalid role %q", llm.ProviderExpress, llm.ErrInvalidRequest, i, m.Role)
		}
		wire = append(wire, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	req := completionRequest{
		Model:       model,
		Messages:    wire,
		MaxTokens:   c.maxTokens(rc),
		Temperature: rc.Temperature,
		Extra:       rc.ExtraParameters,
	}
	return req.payload(), nil
}
