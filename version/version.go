// Package version 提供 gateway-kit 的构建信息。
// 版本字段通过 -ldflags "-X github.com/lgc202/gateway-kit/version.gitVersion=..." 在构建时注入，
// 同时用于 HTTP 请求的 User-Agent 与 gatewayctl version 子命令。
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/gosuri/uitable"
	"gopkg.in/yaml.v3"
)

var (
	// gitVersion 是语义化的版本号，格式为 vMAJOR.MINOR.PATCH[-PRERELEASE][+BUILD]
	gitVersion = "v0.0.0-master+$Format:%h$"
	// buildDate 是 ISO8601 格式的构建时间, $(date -u +'%Y-%m-%dT%H:%M:%SZ') 命令的输出
	buildDate = "1970-01-01T00:00:00Z"
	// gitCommit 是 Git 的 SHA1 值，$(git rev-parse HEAD) 命令的输出
	gitCommit = "$Format:%H$"
	// gitTreeState 代表构建时 Git 仓库的状态，值为 clean 或 dirty
	gitTreeState = ""
)

// Info 包含了版本信息
type Info struct {
	GitVersion   string `json:"gitVersion" yaml:"gitVersion"`
	GitCommit    string `json:"gitCommit" yaml:"gitCommit"`
	GitTreeState string `json:"gitTreeState,omitempty" yaml:"gitTreeState,omitempty"`
	BuildDate    string `json:"buildDate" yaml:"buildDate"`
	GoVersion    string `json:"goVersion" yaml:"goVersion"`
	Compiler     string `json:"compiler" yaml:"compiler"`
	Platform     string `json:"platform" yaml:"platform"`
}

// String 返回人性化的版本信息字符串
func (info Info) String() string {
	if info.GitTreeState == "dirty" {
		return info.GitVersion + "-dirty"
	}
	return info.GitVersion
}

// ShortString 返回简短的版本字符串，仅包含版本号
func (info Info) ShortString() string {
	return info.GitVersion
}

// ToJSONIndent 以格式化的 JSON 格式返回版本信息
func (info Info) ToJSONIndent() (string, error) {
	s, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal version info: %w", err)
	}
	return string(s), nil
}

// ToYAML 以 YAML 格式返回版本信息
func (info Info) ToYAML() (string, error) {
	s, err := yaml.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to marshal version info: %w", err)
	}
	return string(s), nil
}

// Text 以对齐的表格形式返回版本信息
func (info Info) Text() string {
	table := uitable.New()
	table.RightAlign(0)
	table.MaxColWidth = 80
	table.Separator = " "
	table.AddRow("gitVersion:", info.GitVersion)
	table.AddRow("gitCommit:", info.GitCommit)
	if info.GitTreeState != "" {
		table.AddRow("gitTreeState:", info.GitTreeState)
	}
	table.AddRow("buildDate:", info.BuildDate)
	table.AddRow("goVersion:", info.GoVersion)
	table.AddRow("compiler:", info.Compiler)
	table.AddRow("platform:", info.Platform)

	return table.String()
}

// Render 按 text、json、yaml、short 输出，未知格式返回错误
func (info Info) Render(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return info.Text(), nil
	case "json":
		return info.ToJSONIndent()
	case "yaml":
		return info.ToYAML()
	case "short":
		return info.ShortString(), nil
	default:
		return "", fmt.Errorf("unknown version format %q", format)
	}
}

// Get 返回当前二进制的构建信息
func Get() Info {
	return Info{
		GitVersion:   gitVersion,
		GitCommit:    gitCommit,
		GitTreeState: gitTreeState,
		BuildDate:    buildDate,
		GoVersion:    runtime.Version(),
		Compiler:     runtime.Compiler,
		Platform:     fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// UserAgent 返回 "<product>/<gitVersion> (<platform>; <goVersion>)" 形式的 User-Agent
func UserAgent(product string) string {
	info := Get()
	return fmt.Sprintf("%s/%s (%s; %s)", product, info.ShortString(), info.Platform, info.GoVersion)
}
