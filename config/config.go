// Package config 基于 viper 加载强类型配置：文件 + 环境变量 + 默认值，
// 可选地通过 fsnotify 监听文件变更并热更新。
package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const reloadDebounce = 100 * time.Millisecond

// Config 配置管理器
type Config[T any] struct {
	v        *viper.Viper
	value    *T
	mu       sync.RWMutex
	watchers []func(old, new T)

	watch    bool
	optional bool
	envKeys  bool
	logger   *slog.Logger
}

// Option 配置选项
type Option[T any] func(*Config[T])

// WithDefaults 设置默认值，key 使用点分路径，如 "einstein.stream_path"
func WithDefaults[T any](defaults map[string]any) Option[T] {
	return func(c *Config[T]) {
		for k, v := range defaults {
			c.v.SetDefault(k, v)
		}
	}
}

// WithEnv 绑定环境变量，einstein.api_key 对应 <PREFIX>_EINSTEIN_API_KEY
//
// T 中所有带 mapstructure 标签的字段都会被显式绑定，因此即使配置文件与默认值里都没有该 key，
// 环境变量依然生效。
func WithEnv[T any](prefix string) Option[T] {
	return func(c *Config[T]) {
		c.v.SetEnvPrefix(prefix)
		c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		c.v.AutomaticEnv()
		c.envKeys = true
	}
}

// WithWatch 开启文件监听，变更经过去抖后重新加载并回调 OnChange
func WithWatch[T any](enabled bool) Option[T] {
	return func(c *Config[T]) { c.watch = enabled }
}

// WithOptionalFile 允许配置文件不存在，此时只使用默认值和环境变量
func WithOptionalFile[T any]() Option[T] {
	return func(c *Config[T]) { c.optional = true }
}

// WithLogger 设置热更新失败时使用的日志记录器
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(c *Config[T]) { c.logger = l }
}

// Load 加载配置；path 为空时等价于可选文件
func Load[T any](path string, opts ...Option[T]) (*Config[T], error) {
	v := viper.New()
	c := &Config[T]{v: v, logger: slog.Default()}

	for _, opt := range opts {
		opt(c)
	}
	if c.envKeys {
		var zero T
		bindEnvKeys(v, reflect.TypeOf(zero), "")
	}

	fileLoaded := false
	if path != "" {
		v.SetConfigFile(path)
		err := v.ReadInConfig()
		switch {
		case err == nil:
			fileLoaded = true
		case c.optional && isNotExist(err):
		default:
			return nil, err
		}
	}

	var val T
	if err := v.Unmarshal(&val); err != nil {
		return nil, err
	}
	c.value = &val

	if c.watch && fileLoaded {
		c.startWatch()
	}
	return c, nil
}

// Get 获取当前配置（并发安全，返回深拷贝）
func (c *Config[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deepCopy(*c.value)
}

// OnChange 注册配置变更回调
func (c *Config[T]) OnChange(callback func(old, new T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, callback)
}

// Changed 比较两个值是否不同
func Changed[T any](old, new T) bool {
	return !reflect.DeepEqual(old, new)
}

// deepCopy 通过 JSON 序列化实现深拷贝
func deepCopy[T any](src T) T {
	var dst T
	data, _ := json.Marshal(src)
	_ = json.Unmarshal(data, &dst)
	return dst
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)
}

// bindEnvKeys 递归展开结构体的 mapstructure 路径并逐一 BindEnv
func bindEnvKeys(v *viper.Viper, t reflect.Type, prefix string) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return
	}
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if tag == "-" {
			continue
		}
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct && ft != reflect.TypeOf(time.Time{}) {
			bindEnvKeys(v, ft, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

func (c *Config[T]) startWatch() {
	var (
		debounceTimer *time.Timer
		debounceMu    sync.Mutex
	)

	c.v.OnConfigChange(func(_ fsnotify.Event) {
		debounceMu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(reloadDebounce, func() {
			c.handleConfigChange()
		})
		debounceMu.Unlock()
	})

	c.v.WatchConfig()
}

func (c *Config[T]) handleConfigChange() {
	oldConfig := c.Get()

	newConfig, watchers, err := c.reloadConfig()
	if err != nil {
		// 保留旧配置
		c.logger.Warn("config: reload failed", "file", c.v.ConfigFileUsed(), "error", err)
		return
	}

	if reflect.DeepEqual(oldConfig, newConfig) {
		return
	}

	for _, cb := range watchers {
		func() {
			defer func() { _ = recover() }()
			cb(oldConfig, newConfig)
		}()
	}
}

// reloadConfig 重新加载配置，返回新配置与回调列表
func (c *Config[T]) reloadConfig() (T, []func(old, new T), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if err := c.v.ReadInConfig(); err != nil {
		return zero, nil, err
	}

	var val T
	if err := c.v.Unmarshal(&val); err != nil {
		return zero, nil, err
	}
	c.value = &val

	watchers := make([]func(old, new T), len(c.watchers))
	copy(watchers, c.watchers)

	return deepCopy(val), watchers, nil
}
