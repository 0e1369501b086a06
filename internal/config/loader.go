package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值、CLI 覆盖项与校验逻辑。
// path 为空表示不读取配置文件，仅依赖默认值与 overrides。
func Load(path string, overrides Overrides) (*Config, error) {
	cfg, err := load(path, overrides)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := resolveCacheDir(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadForMaintenance 与 Load 共享同一套配置来源与优先级，但只校验维护
// 操作所需的缓存目录。独立的清缓存操作不要求配置上游地址。
func LoadForMaintenance(path string, overrides Overrides) (*Config, error) {
	cfg, err := load(path, overrides)
	if err != nil {
		return nil, err
	}

	if cfg.CacheDir == "" {
		return nil, newFieldError("CacheDir", "不能为空")
	}

	if err := resolveCacheDir(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string, overrides Overrides) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)
	applyOverrides(&cfg, overrides)

	return &cfg, nil
}

func resolveCacheDir(cfg *Config) error {
	absCacheDir, err := filepath.Abs(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.CacheDir = absCacheDir
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 8000)
	v.SetDefault("CacheDir", ".cache")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxBodyBytes", 64*1024*1024)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
}

func applyDefaults(cfg *Config) {
	if cfg.ListenPort == 0 {
		cfg.ListenPort = 8000
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = ".cache"
	}
	if cfg.UpstreamTimeout.DurationValue() == 0 {
		cfg.UpstreamTimeout = Duration(30 * time.Second)
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 64 * 1024 * 1024
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// applyOverrides 按 “flag 高于配置文件” 的优先级合并 CLI 覆盖项。
func applyOverrides(cfg *Config, overrides Overrides) {
	if overrides.Upstream != "" {
		cfg.Upstream = overrides.Upstream
	}
	if overrides.ListenPort != 0 {
		cfg.ListenPort = overrides.ListenPort
	}
	if overrides.CacheDir != "" {
		cfg.CacheDir = overrides.CacheDir
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
