package server

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/binhub/internal/binary/filestore"
	"github.com/any-hub/binhub/internal/binary/memstore"
	"github.com/any-hub/binhub/internal/binary/remote"
	"github.com/any-hub/binhub/internal/config"
)

func testStorageConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000, StoragePath: root},
		Cache: config.CacheConfig{
			Enabled: true,
			Path:    filepath.Join(root, "cache"),
			MaxSize: 1 << 20,
		},
		Backend: config.BackendConfig{
			Type:       config.BackendFilesystem,
			Path:       filepath.Join(root, "binaries"),
			ShardWidth: 2,
		},
	}
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestBuildStorageWithCache(t *testing.T) {
	cfg := testStorageConfig(t)
	storage, err := BuildStorage(cfg, discardLogger(), nil)
	if err != nil {
		t.Fatalf("BuildStorage error: %v", err)
	}
	defer storage.Close()

	if storage.Chain.Len() != 2 || storage.Cache == nil {
		t.Fatalf("expected cache -> filesystem chain, got %d tiers", storage.Chain.Len())
	}
	if storage.Chain.Head() != storage.Cache {
		t.Fatalf("cache tier should be the head")
	}
	if _, ok := storage.Terminal.(*filestore.Store); !ok {
		t.Fatalf("expected filesystem terminal, got %T", storage.Terminal)
	}

	ctx := context.Background()
	info, err := storage.Chain.AddStream(ctx, bytes.NewReader([]byte("bootstrap")))
	if err != nil {
		t.Fatalf("AddStream error: %v", err)
	}
	if stats := storage.Cache.Stats(); stats.Entries != 1 || stats.TotalSize != info.Length {
		t.Fatalf("write-through should populate cache, stats=%+v", stats)
	}
	rc, err := storage.Terminal.GetStream(ctx, info.SHA1)
	if err != nil {
		t.Fatalf("terminal should hold authoritative copy: %v", err)
	}
	rc.Close()
}

func TestBuildStorageWithoutCache(t *testing.T) {
	cfg := testStorageConfig(t)
	cfg.Cache.Enabled = false
	cfg.Backend.Type = config.BackendMemory

	storage, err := BuildStorage(cfg, discardLogger(), nil)
	if err != nil {
		t.Fatalf("BuildStorage error: %v", err)
	}
	if storage.Cache != nil || storage.Chain.Len() != 1 {
		t.Fatalf("cache tier should be absent")
	}
	if _, ok := storage.Terminal.(*memstore.Store); !ok {
		t.Fatalf("expected memory terminal, got %T", storage.Terminal)
	}
	if err := storage.Close(); err != nil {
		t.Fatalf("Close without cache should be a no-op: %v", err)
	}
}

func TestBuildStorageRemoteBackend(t *testing.T) {
	cfg := testStorageConfig(t)
	cfg.Backend = config.BackendConfig{
		Type:       config.BackendRemote,
		Upstream:   "http://upstream.binhub.local",
		MaxRetries: 2,
	}

	storage, err := BuildStorage(cfg, discardLogger(), nil)
	if err != nil {
		t.Fatalf("BuildStorage error: %v", err)
	}
	defer storage.Close()

	p, ok := storage.Terminal.(*remote.Provider)
	if !ok {
		t.Fatalf("expected remote terminal, got %T", storage.Terminal)
	}
	if p.BaseURL() != "http://upstream.binhub.local" {
		t.Fatalf("unexpected base url %s", p.BaseURL())
	}
}

func TestBuildStorageRejectsUnknownBackend(t *testing.T) {
	cfg := testStorageConfig(t)
	cfg.Backend.Type = "tape"
	if _, err := BuildStorage(cfg, discardLogger(), nil); err == nil {
		t.Fatalf("unknown backend should fail")
	}
}
