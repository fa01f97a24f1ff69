// Package cli 实现 gatewayctl 命令行：chat（单次或交互式）与 version。
package cli

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// IOStreams 抽象标准输入输出，便于测试
type IOStreams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

func StdStreams() IOStreams {
	return IOStreams{In: os.Stdin, Out: os.Stdout, ErrOut: os.Stderr}
}

// NewRootCommand 构建 gatewayctl 根命令
func NewRootCommand(streams IOStreams) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "gatewayctl",
		Short: "Einstein / LLM Express gateway client",
		Long: `gatewayctl talks to the Einstein (SSE streaming) and LLM Express (chat-completion)
gateways. Configuration is read from a YAML file and GATEWAY_* environment variables,
e.g. GATEWAY_EINSTEIN_API_KEY or GATEWAY_GATEWAY=express.`,
		Example: `  # One-shot question, streamed to stdout
  $ gatewayctl chat "What is SSE?"

  # Interactive session against the express gateway
  $ gatewayctl chat -i --gateway express

  # Print build info as yaml
  $ gatewayctl version -o yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.ErrOut)

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径 (yaml/json)，不存在时仅使用环境变量")

	root.AddCommand(newChatCommand(streams, &configPath))
	root.AddCommand(newVersionCommand(streams))
	return root
}

// reportedError 表示错误已经输出给用户
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// Execute 运行根命令并返回进程退出码
func Execute(ctx context.Context, streams IOStreams, args []string) int {
	root := NewRootCommand(streams)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var reported reportedError
	if !errors.As(err, &reported) {
		printError(streams.ErrOut, err)
	}
	return 1
}
