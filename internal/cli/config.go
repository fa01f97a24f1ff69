package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/lgc202/gateway-kit/config"
	"github.com/lgc202/gateway-kit/internal/logging"
	"github.com/lgc202/gateway-kit/internal/observability"
	"github.com/lgc202/gateway-kit/llm"
	"github.com/lgc202/gateway-kit/llm/providers/einstein"
	"github.com/lgc202/gateway-kit/llm/providers/express"
)

const envPrefix = "GATEWAY"

// AppConfig 是 gatewayctl 的完整配置，对应 YAML 文件与 GATEWAY_* 环境变量
type AppConfig struct {
	// Gateway 取值 einstein 或 express
	Gateway string `mapstructure:"gateway"`

	Einstein einstein.Config `mapstructure:"einstein"`
	Express  express.Config  `mapstructure:"express"`

	Session SessionConfig        `mapstructure:"session"`
	Log     logging.Config       `mapstructure:"log"`
	Tracing observability.Config `mapstructure:"tracing"`
}

type SessionConfig struct {
	RequireDone  bool   `mapstructure:"require_done"`
	Accumulation string `mapstructure:"accumulation"`
}

func defaults() map[string]any {
	return map[string]any{
		"gateway":              string(llm.ProviderEinstein),
		"einstein.stream_path": einstein.DefaultStreamPath,
		"einstein.app_context": einstein.DefaultAppContext,
		"express.path":         express.DefaultPath,
		"session.accumulation": llm.AccumulateAppend.String(),
		"log.level":            "warn",
	}
}

func loadConfig(path string, watch bool) (*config.Config[AppConfig], error) {
	return config.Load(path,
		config.WithDefaults[AppConfig](defaults()),
		config.WithEnv[AppConfig](envPrefix),
		config.WithOptionalFile[AppConfig](),
		config.WithWatch[AppConfig](watch),
	)
}

// newModel 按 Gateway 构建对应的 ChatModel
func newModel(cfg AppConfig, logger *slog.Logger) (llm.ChatModel, error) {
	switch llm.Provider(strings.ToLower(strings.TrimSpace(cfg.Gateway))) {
	case llm.ProviderEinstein:
		ec := cfg.Einstein
		ec.Logger = logger
		return einstein.New(ec)
	case llm.ProviderExpress:
		xc := cfg.Express
		xc.Logger = logger
		return express.New(xc)
	default:
		return nil, fmt.Errorf("unknown gateway %q (want einstein or express)", cfg.Gateway)
	}
}

func clientOptions(cfg AppConfig, logger *slog.Logger) ([]llm.Option, error) {
	policy, err := llm.ParseAccumulatePolicy(cfg.Session.Accumulation)
	if err != nil {
		return nil, err
	}
	return []llm.Option{
		llm.WithLogger(logger),
		llm.WithRequireDone(cfg.Session.RequireDone),
		llm.WithAccumulation(policy),
	}, nil
}
