package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const supportedBackendList = "filesystem|remote|memory"

// maxShardWidth 限制分片目录名长度，过宽会退化为每个文件一个目录。
const maxShardWidth = 8

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	switch strings.ToLower(g.LogFormat) {
	case "", "json", "text":
	default:
		return newFieldError("Global.LogFormat", "仅支持 json|text")
	}
	if g.MaxUploadSize <= 0 {
		return newFieldError("Global.MaxUploadSize", "必须大于 0")
	}

	if c.Cache.Enabled && c.Cache.MaxSize <= 0 {
		return newFieldError("Cache.MaxSize", "启用缓存时必须大于 0")
	}

	return validateBackend(&c.Backend)
}

func validateBackend(b *BackendConfig) error {
	b.Type = strings.ToLower(strings.TrimSpace(b.Type))
	switch b.Type {
	case BackendFilesystem:
		if b.ShardWidth < 0 || b.ShardWidth > maxShardWidth {
			return newFieldError("Backend.ShardWidth", fmt.Sprintf("必须在 0-%d", maxShardWidth))
		}
	case BackendRemote:
		if err := validateUpstream(b.Upstream); err != nil {
			return fmt.Errorf("Backend.Upstream: %w", err)
		}
		if b.MaxRetries < 0 {
			return newFieldError("Backend.MaxRetries", "不能为负数")
		}
		if b.InitialBackoff.DurationValue() <= 0 {
			return newFieldError("Backend.InitialBackoff", "必须大于 0")
		}
		if b.Timeout.DurationValue() <= 0 {
			return newFieldError("Backend.Timeout", "必须大于 0")
		}
	case BackendMemory:
	case "":
		return newFieldError("Backend.Type", "不能为空")
	default:
		return newFieldError("Backend.Type", "仅支持 "+supportedBackendList)
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
