package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/binhub/internal/binary"
	"github.com/any-hub/binhub/internal/binary/filestore"
	"github.com/any-hub/binhub/internal/binary/memstore"
	"github.com/any-hub/binhub/internal/binary/remote"
	"github.com/any-hub/binhub/internal/cache"
	"github.com/any-hub/binhub/internal/config"
)

// Storage 汇总按配置组装好的存储链。Cache 在禁用缓存时为 nil。
type Storage struct {
	Chain    *binary.Chain
	Cache    *cache.Provider
	Terminal binary.Provider
}

// Close 等待缓存清理协程退出。
func (s *Storage) Close() error {
	if s == nil || s.Cache == nil {
		return nil
	}
	return s.Cache.Close()
}

// BuildStorage 根据配置构造终端存储层，并在启用缓存时把缓存层放在链头。
func BuildStorage(cfg *config.Config, logger *logrus.Logger, oracle cache.InUseOracle) (*Storage, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	terminal, err := buildTerminal(cfg.Backend, logger)
	if err != nil {
		return nil, err
	}

	tiers := make([]binary.Provider, 0, 2)
	var cacheTier *cache.Provider
	if cfg.Cache.Enabled {
		cacheTier, err = cache.New(terminal, cache.Options{
			Dir:          cfg.Cache.Path,
			MaxTotalSize: cfg.Cache.MaxSize.Int64(),
			Oracle:       oracle,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init cache tier: %w", err)
		}
		tiers = append(tiers, cacheTier)
	}
	tiers = append(tiers, terminal)

	chain, err := binary.NewChain(tiers...)
	if err != nil {
		return nil, err
	}
	return &Storage{Chain: chain, Cache: cacheTier, Terminal: terminal}, nil
}

func buildTerminal(b config.BackendConfig, logger *logrus.Logger) (binary.Provider, error) {
	switch b.Type {
	case config.BackendFilesystem, "":
		store, err := filestore.New(b.Path, filestore.WithShardWidth(b.ShardWidth))
		if err != nil {
			return nil, fmt.Errorf("init filesystem backend: %w", err)
		}
		return store, nil
	case config.BackendRemote:
		provider, err := remote.New(remote.Options{
			BaseURL:        b.Upstream,
			Client:         remote.NewClient(b.Timeout.DurationValue()),
			MaxRetries:     b.MaxRetries,
			InitialBackoff: backoffOrDefault(b.InitialBackoff.DurationValue()),
			Logger:         logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init remote backend: %w", err)
		}
		return provider, nil
	case config.BackendMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type %q", b.Type)
	}
}

func backoffOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return d
}
