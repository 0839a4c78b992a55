package server

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RouteRegistrar attaches a group of handlers to the application. It allows
// injecting fake surfaces during tests.
type RouteRegistrar func(fiber.Router)

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	ListenPort int
	// BodyLimit 限制单次上传大小，<= 0 时使用 Fiber 默认值。
	BodyLimit int64
	Routes    []RouteRegistrar
}

const (
	contextKeyRequestID = "_binhub_request_id"

	// HeaderRequestID 每个响应都会携带。
	HeaderRequestID = "X-Request-ID"
)

// NewApp builds a Fiber application with request-id middleware, panic
// recovery, streamed request bodies and a JSON 404 fallback.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	cfg := fiber.Config{
		CaseSensitive:     true,
		StreamRequestBody: true,
	}
	if opts.BodyLimit > 0 {
		cfg.BodyLimit = int(opts.BodyLimit)
	}
	app := fiber.New(cfg)

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	for _, register := range opts.Routes {
		if register != nil {
			register(app)
		}
	}

	app.Use(routeNotFoundHandler(opts.Logger))

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID 并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set(HeaderRequestID, reqID)
		return c.Next()
	}
}

func routeNotFoundHandler(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		return renderRouteNotFound(c, logger)
	}
}

func renderRouteNotFound(c fiber.Ctx, logger *logrus.Logger) error {
	fields := logrus.Fields{
		"action":     "route_lookup",
		"method":     c.Method(),
		"path":       c.Path(),
		"request_id": RequestID(c),
	}
	logger.WithFields(fields).Debug("route unmapped")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "route_not_found",
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
