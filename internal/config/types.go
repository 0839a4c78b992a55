package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 以字节为单位，兼容 "512MB"、"1GiB" 等可读写法与纯整数。
type ByteSize int64

// UnmarshalText 通过 go-humanize 解析带单位的大小。
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := parseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Int64 返回字节数。
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// String 输出人类可读的大小，用于日志。
func (b ByteSize) String() string {
	if b < 0 {
		return strconv.FormatInt(int64(b), 10)
	}
	return humanize.IBytes(uint64(b))
}

func parseByteSize(raw string) (ByteSize, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if intVal, err := parseInt(raw); err == nil {
		return ByteSize(intVal), nil
	}
	parsed, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size value: %s", raw)
	}
	return ByteSize(parsed), nil
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 终端存储层类型。
const (
	BackendFilesystem = "filesystem"
	BackendRemote     = "remote"
	BackendMemory     = "memory"
)

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort    int      `mapstructure:"ListenPort"`
	LogLevel      string   `mapstructure:"LogLevel"`
	LogFormat     string   `mapstructure:"LogFormat"`
	LogFilePath   string   `mapstructure:"LogFilePath"`
	LogMaxSize    int      `mapstructure:"LogMaxSize"`
	LogMaxBackups int      `mapstructure:"LogMaxBackups"`
	LogCompress   bool     `mapstructure:"LogCompress"`
	StoragePath   string   `mapstructure:"StoragePath"`
	MaxUploadSize ByteSize `mapstructure:"MaxUploadSize"`
}

// CacheConfig 控制磁盘 LRU 缓存层，构造时读取一次。
type CacheConfig struct {
	Enabled        bool     `mapstructure:"Enabled"`
	Path           string   `mapstructure:"Path"`
	MaxSize        ByteSize `mapstructure:"MaxSize"`
	PruneOnStartup bool     `mapstructure:"PruneOnStartup"`
}

// BackendConfig 决定缓存层之后的终端存储。
type BackendConfig struct {
	Type           string   `mapstructure:"Type"`
	Path           string   `mapstructure:"Path"`
	ShardWidth     int      `mapstructure:"ShardWidth"`
	Upstream       string   `mapstructure:"Upstream"`
	MaxRetries     int      `mapstructure:"MaxRetries"`
	InitialBackoff Duration `mapstructure:"InitialBackoff"`
	Timeout        Duration `mapstructure:"Timeout"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig  `mapstructure:",squash"`
	Cache   CacheConfig   `mapstructure:"Cache"`
	Backend BackendConfig `mapstructure:"Backend"`
}

// ChainSummary 输出存储链的简述，例如 cache -> filesystem，供启动日志使用。
func (c *Config) ChainSummary() string {
	if c.Cache.Enabled {
		return "cache -> " + c.Backend.Type
	}
	return c.Backend.Type
}
