// Package logging 根据配置构建 slog.Logger，支持 stdout/stderr 与按大小滚动的日志文件。
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	// Level 取值 debug/info/warn/error，默认 info
	Level string `mapstructure:"level"`
	// Format 取值 text/json，默认 text
	Format string `mapstructure:"format"`
	// Output 取值 stdout、stderr 或文件路径，默认 stderr
	Output string `mapstructure:"output"`

	MaxSizeMB  int  `mapstructure:"max_size_mb"` // 单个日志文件大小上限，MB
	MaxBackups int  `mapstructure:"max_backups"` // 备份个数
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// New 返回 logger 以及需要在退出时关闭的输出（stdout/stderr 时为 nil）
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer
		closer io.Closer
	)
	switch out := strings.TrimSpace(cfg.Output); out {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		lj := &lumberjack.Logger{
			Filename:   out,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}
	return slog.New(h), closer, nil
}

// Setup 与 New 相同，并把结果设置为 slog 默认 logger
func Setup(cfg Config) (*slog.Logger, io.Closer, error) {
	l, c, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(l)
	return l, c, nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", s)
	}
}
