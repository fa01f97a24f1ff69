package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/lgc202/gateway-kit/llm"
	"github.com/lgc202/gateway-kit/llm/schema"
)

var (
	roleColor  = color.New(color.FgCyan, color.Bold)
	errorColor = color.New(color.FgRed, color.Bold)
	infoColor  = color.New(color.Faint)
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// chatOutput 是 --output json|yaml 的渲染结构
type chatOutput struct {
	Gateway  string           `json:"gateway" yaml:"gateway"`
	Messages []schema.Message `json:"messages" yaml:"messages"`
	Usage    schema.Usage     `json:"usage" yaml:"usage"`
}

func validOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

func renderResult(w io.Writer, format string, provider llm.Provider, res llm.Result) error {
	out := chatOutput{Gateway: string(provider), Messages: res.Messages, Usage: res.Usage}
	switch format {
	case outputJSON:
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case outputYAML:
		b, err := yaml.Marshal(out)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	default:
		for _, m := range res.Messages {
			if _, err := fmt.Fprintln(w, m.Content); err != nil {
				return err
			}
		}
		return nil
	}
}

func printRole(w io.Writer, role schema.Role) {
	_, _ = roleColor.Fprintf(w, "%s> ", strings.ToLower(string(role)))
}

func printError(w io.Writer, err error) {
	_, _ = errorColor.Fprintf(w, "✗ %v\n", err)
	if ae, ok := llm.AsAPIError(err); ok && ae.RequestID != "" {
		_, _ = infoColor.Fprintf(w, "  request id: %s\n", ae.RequestID)
	}
}
