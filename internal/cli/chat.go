package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/lgc202/gateway-kit/config"
	"github.com/lgc202/gateway-kit/internal/logging"
	"github.com/lgc202/gateway-kit/internal/observability"
	"github.com/lgc202/gateway-kit/llm"
	"github.com/lgc202/gateway-kit/llm/schema"
)

type chatOptions struct {
	configPath *string

	gateway     string
	model       string
	system      string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	interactive bool
	output      string
}

func newChatCommand(streams IOStreams, configPath *string) *cobra.Command {
	o := &chatOptions{configPath: configPath}

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "向网关发送对话，内容实时输出",
		Long: `Send a conversation to the configured gateway.

Without --interactive the prompt is taken from the arguments, or from stdin when
no arguments are given. With --interactive a REPL keeps the conversation history;
the config file is watched and re-read before every turn. Type /reset to clear
the history and /exit to quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, streams, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.gateway, "gateway", "", "覆盖配置中的网关 (einstein, express)")
	f.StringVarP(&o.model, "model", "m", "", "覆盖配置中的模型")
	f.StringVarP(&o.system, "system", "s", "", "system 消息")
	f.Float64Var(&o.temperature, "temperature", 0, "采样温度")
	f.IntVar(&o.maxTokens, "max-tokens", 0, "最大生成 token 数，0 表示使用网关默认值")
	f.DurationVar(&o.timeout, "timeout", 0, "单轮请求超时，0 表示使用配置")
	f.BoolVarP(&o.interactive, "interactive", "i", false, "交互模式")
	f.StringVarP(&o.output, "output", "o", outputText, "输出格式 (text, json, yaml)")
	return cmd
}

func (o *chatOptions) run(cmd *cobra.Command, streams IOStreams, args []string) error {
	if err := validOutput(o.output); err != nil {
		return err
	}
	if o.interactive && len(args) > 0 {
		return errors.New("prompt arguments are not accepted with --interactive")
	}

	cfgMgr, err := loadConfig(*o.configPath, o.interactive)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := o.apply(cfgMgr.Get())

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tp, shutdown, err := observability.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	t := &turnRunner{opts: o, cmd: cmd, streams: streams, logger: logger, tracer: tp}
	if o.interactive {
		return t.repl(ctx, cfgMgr)
	}

	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		b, err := io.ReadAll(streams.In)
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(b))
	}
	if prompt == "" {
		return errors.New("empty prompt")
	}

	_, err = t.turn(ctx, cfg, o.conversation(nil, prompt))
	return err
}

// apply 用命令行参数覆盖配置
func (o *chatOptions) apply(cfg AppConfig) AppConfig {
	if o.gateway != "" {
		cfg.Gateway = o.gateway
	}
	return cfg
}

func (o *chatOptions) conversation(history []schema.Message, prompt string) []schema.Message {
	var msgs []schema.Message
	if o.system != "" {
		msgs = append(msgs, schema.SystemMessage(o.system))
	}
	msgs = append(msgs, history...)
	return append(msgs, schema.UserMessage(prompt))
}

func (o *chatOptions) requestOptions(cmd *cobra.Command) []llm.RequestOption {
	var opts []llm.RequestOption
	if o.model != "" {
		opts = append(opts, llm.WithModel(o.model))
	}
	if cmd != nil && cmd.Flags().Changed("temperature") {
		opts = append(opts, llm.WithTemperature(o.temperature))
	}
	if o.maxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(o.maxTokens))
	}
	if o.timeout > 0 {
		opts = append(opts, llm.WithTimeout(o.timeout))
	}
	return opts
}

type turnRunner struct {
	opts    *chatOptions
	cmd     *cobra.Command
	streams IOStreams
	logger  *slog.Logger
	tracer  trace.TracerProvider
}

// turn 执行一轮对话；text 输出时内容边到达边打印
func (t *turnRunner) turn(ctx context.Context, cfg AppConfig, messages []schema.Message) (llm.Result, error) {
	model, err := newModel(cfg, t.logger)
	if err != nil {
		return llm.Result{}, err
	}
	copts, err := clientOptions(cfg, t.logger)
	if err != nil {
		return llm.Result{}, err
	}
	client := llm.Wrap(model, append(copts, llm.WithTracerProvider(t.tracer))...)

	ropts := t.opts.requestOptions(t.cmd)
	streamed := false
	if t.opts.output == outputText {
		ropts = append(ropts, llm.WithStreamingFunc(func(_ context.Context, chunk string) error {
			streamed = true
			_, err := io.WriteString(t.streams.Out, chunk)
			return err
		}))
	}

	res := client.Aggregate(ctx, messages, ropts...)
	if streamed {
		_, _ = fmt.Fprintln(t.streams.Out)
	}
	if res.Err != nil {
		printError(t.streams.ErrOut, res.Err)
		return res, reportedError{res.Err}
	}
	if t.opts.output != outputText {
		return res, renderResult(t.streams.Out, t.opts.output, client.Provider(), res)
	}
	return res, nil
}

func (t *turnRunner) repl(ctx context.Context, cfgMgr *config.Config[AppConfig]) error {
	_, _ = infoColor.Fprintln(t.streams.ErrOut, "interactive mode, /reset clears history, /exit quits")

	var history []schema.Message
	sc := bufio.NewScanner(t.streams.In)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		printRole(t.streams.ErrOut, schema.RoleUser)
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			history = nil
			continue
		}

		// 每轮重新读取配置，文件修改后立即生效
		cfg := t.opts.apply(cfgMgr.Get())
		msgs := t.opts.conversation(history, line)
		if t.opts.output == outputText {
			printRole(t.streams.ErrOut, schema.RoleAssistant)
		}
		res, err := t.turn(ctx, cfg, msgs)
		if err != nil {
			// 配置错误等 turn 未输出的失败在此提示，本轮不计入历史
			if !errors.As(err, new(reportedError)) {
				printError(t.streams.ErrOut, err)
			}
			continue
		}
		history = append(history, schema.UserMessage(line))
		history = append(history, res.Messages...)
	}
}
