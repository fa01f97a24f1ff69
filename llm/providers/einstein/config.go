package einstein

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lgc202/gateway-kit/httpx"
)

const (
	DefaultStreamPath = "/chat/generations/stream"
	DefaultAppContext = "EinsteinGPT"

	headerTenantID   = "x-sfdc-core-tenant-id"
	headerFeatureID  = "x-client-feature-id"
	headerAppContext = "x-sfdc-app-context"
	headerProvider   = "x-llm-provider"
)

// Config 描述 Einstein 网关连接参数，可直接由 config.Load 从 YAML/环境变量填充
type Config struct {
	BaseURL    string `mapstructure:"base_url"`
	StreamPath string `mapstructure:"stream_path"`
	APIKey     string `mapstructure:"api_key"`

	TenantID   string `mapstructure:"tenant_id"`
	FeatureID  string `mapstructure:"feature_id"`
	AppContext string `mapstructure:"app_context"`

	// Model 是默认模型，可被 llm.WithModel 覆盖
	Model string `mapstructure:"model"`
	// DefaultMaxTokens 为 0 时使用 llm.DefaultMaxTokens
	DefaultMaxTokens int `mapstructure:"default_max_tokens"`
	// ProviderRouting 写入 x-llm-provider，留空则不发送
	ProviderRouting string `mapstructure:"provider_routing"`
	// Parameters 合并进 generation_settings.parameters
	Parameters map[string]any `mapstructure:"parameters"`

	// Accumulation 取值 append 或 replace，决定 Chat 的聚合方式
	Accumulation string `mapstructure:"accumulation"`

	Timeout time.Duration `mapstructure:"timeout"`

	DefaultHeaders http.Header        `mapstructure:"-"`
	Transport      http.RoundTripper  `mapstructure:"-"`
	Retry          *httpx.RetryConfig `mapstructure:"-"`
	Logger         *slog.Logger       `mapstructure:"-"`
}

func (c Config) headers() http.Header {
	h := make(http.Header, len(c.DefaultHeaders)+4)
	for k, vs := range c.DefaultHeaders {
		h[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	if c.TenantID != "" {
		h.Set(headerTenantID, c.TenantID)
	}
	if c.FeatureID != "" {
		h.Set(headerFeatureID, c.FeatureID)
	}
	appCtx := c.AppContext
	if appCtx == "" {
		appCtx = DefaultAppContext
	}
	h.Set(headerAppContext, appCtx)
	if c.ProviderRouting != "" {
		h.Set(headerProvider, c.ProviderRouting)
	}
	return h
}
