package routes

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/binhub/internal/binary"
	"github.com/any-hub/binhub/internal/binary/remote"
	"github.com/any-hub/binhub/internal/cache"
	"github.com/any-hub/binhub/internal/inuse"
	"github.com/any-hub/binhub/internal/logging"
	"github.com/any-hub/binhub/internal/server"
)

// BinaryOptions 描述 /api/binaries 所需的依赖。
type BinaryOptions struct {
	Store   binary.Provider
	Tracker *inuse.Tracker
	Logger  *logrus.Logger
}

type binaryHandler struct {
	store   binary.Provider
	tracker *inuse.Tracker
	logger  *logrus.Logger
}

// RegisterBinaryRoutes 挂载内容读写接口。Store 为空时不注册任何路由。
func RegisterBinaryRoutes(r fiber.Router, opts BinaryOptions) {
	if r == nil || opts.Store == nil {
		return
	}
	h := &binaryHandler{
		store:   opts.Store,
		tracker: opts.Tracker,
		logger:  opts.Logger,
	}
	if h.tracker == nil {
		h.tracker = inuse.New()
	}
	if h.logger == nil {
		h.logger = logrus.StandardLogger()
	}

	r.Get("/api/binaries/:sha1", h.get)
	r.Put("/api/binaries", h.put)
	r.Delete("/api/binaries/:sha1", h.delete)
}

func (h *binaryHandler) get(c fiber.Ctx) error {
	started := time.Now()
	sum, err := binary.ParseSHA1(c.Params("sha1"))
	if err != nil {
		h.logResult(c, "binary_get", "", fiber.StatusBadRequest, started, err)
		return writeError(c, fiber.StatusBadRequest, "invalid_checksum")
	}

	// 先登记再打开，保证文件从打开起就不会被淘汰。
	release := h.tracker.Acquire(sum)
	rc, err := h.store.GetStream(requestContext(c), sum)
	if err != nil {
		release()
		status, code := classifyError(err)
		h.logResult(c, "binary_get", sum, status, started, err)
		return writeError(c, status, code)
	}

	size := -1
	if sizer, ok := rc.(interface{ Stat() (os.FileInfo, error) }); ok {
		if info, statErr := sizer.Stat(); statErr == nil {
			size = int(info.Size())
		}
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	c.Set(remote.HeaderChecksumSHA1, sum)
	h.logResult(c, "binary_get", sum, fiber.StatusOK, started, nil)
	return c.Status(fiber.StatusOK).SendStream(inuse.Wrap(rc, release), size)
}

func (h *binaryHandler) put(c fiber.Ctx) error {
	started := time.Now()
	info, err := h.store.AddStream(requestContext(c), requestBody(c))
	if err != nil {
		if !errors.Is(err, cache.ErrStagingFailed) || !info.Valid() {
			status, code := classifyError(err)
			h.logResult(c, "binary_put", "", status, started, err)
			return writeError(c, status, code)
		}
		// 终端层已持久化，仅本地缓存副本失败。
		fields := logging.BinaryFields("binary_put", info.SHA1)
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Warn("cache_copy_failed")
	}

	c.Set(remote.HeaderChecksumSHA1, info.SHA1)
	h.logResult(c, "binary_put", info.SHA1, fiber.StatusCreated, started, nil)
	return c.Status(fiber.StatusCreated).JSON(info)
}

func (h *binaryHandler) delete(c fiber.Ctx) error {
	started := time.Now()
	sum, err := binary.ParseSHA1(c.Params("sha1"))
	if err != nil {
		h.logResult(c, "binary_delete", "", fiber.StatusBadRequest, started, err)
		return writeError(c, fiber.StatusBadRequest, "invalid_checksum")
	}

	deleted, err := h.store.Delete(requestContext(c), sum)
	if err != nil {
		status, code := classifyError(err)
		h.logResult(c, "binary_delete", sum, status, started, err)
		return c.Status(status).JSON(fiber.Map{"error": code, "deleted": deleted})
	}

	h.logResult(c, "binary_delete", sum, fiber.StatusOK, started, nil)
	return c.JSON(fiber.Map{"deleted": deleted})
}

func (h *binaryHandler) logResult(c fiber.Ctx, action, sha1 string, status int, started time.Time, err error) {
	fields := logging.RequestFields(server.RequestID(c), c.Method(), c.Path(), status)
	fields["action"] = action
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if sha1 != "" {
		fields["sha1"] = sha1
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if status >= fiber.StatusInternalServerError {
		h.logger.WithFields(fields).Error("binary_request_failed")
		return
	}
	h.logger.WithFields(fields).Info("binary_request_complete")
}

// classifyError 把存储链错误映射为 HTTP 状态与错误码。
func classifyError(err error) (int, string) {
	var statusErr *remote.StatusError
	switch {
	case errors.Is(err, binary.ErrNotFound):
		return fiber.StatusNotFound, "binary_not_found"
	case errors.Is(err, binary.ErrInvalidChecksum):
		return fiber.StatusBadRequest, "invalid_checksum"
	case errors.As(err, &statusErr):
		return fiber.StatusBadGateway, "upstream_error"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "storage_timeout"
	default:
		return fiber.StatusInternalServerError, "storage_error"
	}
}

// requestBody 优先使用流式请求体，避免大文件整体读入内存。
func requestBody(c fiber.Ctx) io.Reader {
	if stream := c.Request().BodyStream(); stream != nil {
		return stream
	}
	return bytes.NewReader(c.Body())
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
