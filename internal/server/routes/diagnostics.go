package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/binhub/internal/cache"
	"github.com/any-hub/binhub/internal/server"
	"github.com/any-hub/binhub/internal/version"
)

// RegisterDiagnosticsRoutes 暴露 /-/cache 与 /-/version 诊断接口。cacheTier 为 nil 表示缓存已禁用。
func RegisterDiagnosticsRoutes(r fiber.Router, cacheTier *cache.Provider, logger *logrus.Logger) {
	if r == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	r.Get("/-/version", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"version": version.Version,
			"commit":  version.Commit,
		})
	})

	r.Get("/-/cache", func(c fiber.Ctx) error {
		if cacheTier == nil {
			return c.JSON(cachePayload{Enabled: false})
		}
		payload := cachePayload{Enabled: true, Stats: statsPtr(cacheTier.Stats())}
		if wantEntries(c.Query("entries")) {
			payload.Entries = cacheTier.Entries()
		}
		return c.JSON(payload)
	})

	r.Post("/-/cache/prune", func(c fiber.Ctx) error {
		if cacheTier == nil {
			return writeError(c, fiber.StatusConflict, "cache_disabled")
		}
		result, err := cacheTier.Prune(requestContext(c))
		fields := logrus.Fields{
			"action":      "cache_prune",
			"request_id":  server.RequestID(c),
			"removed":     result.Removed,
			"skipped":     result.Skipped,
			"freed_bytes": result.Freed,
		}
		if err != nil {
			fields["error"] = err.Error()
			logger.WithFields(fields).Error("cache_prune_failed")
			return writeError(c, fiber.StatusInternalServerError, "prune_failed")
		}
		logger.WithFields(fields).Debug("cache_prune_complete")
		return c.JSON(result)
	})
}

type cachePayload struct {
	Enabled bool              `json:"enabled"`
	Stats   *cache.Stats      `json:"stats,omitempty"`
	Entries []cache.EntryInfo `json:"entries,omitempty"`
}

func statsPtr(s cache.Stats) *cache.Stats {
	return &s
}

func wantEntries(raw string) bool {
	switch raw {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
