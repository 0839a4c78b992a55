package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), byteSizeDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyBackendDefaults(&cfg.Backend)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析存储目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage
	applyPathDefaults(&cfg)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("MaxUploadSize", "2GiB")

	v.SetDefault("Cache.Enabled", true)
	v.SetDefault("Cache.Path", "")
	v.SetDefault("Cache.MaxSize", "1GiB")
	v.SetDefault("Cache.PruneOnStartup", false)

	v.SetDefault("Backend.Type", BackendFilesystem)
	v.SetDefault("Backend.ShardWidth", 2)
	v.SetDefault("Backend.MaxRetries", 3)
	v.SetDefault("Backend.InitialBackoff", "1s")
	v.SetDefault("Backend.Timeout", "30s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.LogFormat = strings.ToLower(strings.TrimSpace(g.LogFormat))
	if g.LogFormat == "" {
		g.LogFormat = "json"
	}
}

func applyBackendDefaults(b *BackendConfig) {
	b.Type = strings.ToLower(strings.TrimSpace(b.Type))
	if b.Type == "" {
		b.Type = BackendFilesystem
	}
	if b.InitialBackoff.DurationValue() == 0 {
		b.InitialBackoff = Duration(time.Second)
	}
	if b.Timeout.DurationValue() == 0 {
		b.Timeout = Duration(30 * time.Second)
	}
	b.Upstream = strings.TrimRight(strings.TrimSpace(b.Upstream), "/")
}

// applyPathDefaults 在 StoragePath 绝对化之后补齐缓存与终端存储目录。
func applyPathDefaults(cfg *Config) {
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = filepath.Join(cfg.Global.StoragePath, "cache")
	} else if abs, err := filepath.Abs(cfg.Cache.Path); err == nil {
		cfg.Cache.Path = abs
	}
	if cfg.Backend.Path == "" {
		cfg.Backend.Path = filepath.Join(cfg.Global.StoragePath, "binaries")
	} else if abs, err := filepath.Abs(cfg.Backend.Path); err == nil {
		cfg.Backend.Path = abs
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

// byteSizeDecodeHook 接受 "512MB"/"1GiB" 字符串或纯整数字节数。
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(ByteSize(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			parsed, err := parseByteSize(v)
			if err != nil {
				return nil, fmt.Errorf("无法解析 ByteSize 字段: %w", err)
			}
			return parsed, nil
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(int64(v)), nil
		case ByteSize:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 ByteSize 类型: %T", v)
		}
	}
}
