package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterDispatchesRegisteredRoutes(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://binhub.local/ping", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s)", resp.StatusCode, string(body))
	}

	if app.recorder.hits != 1 {
		t.Fatalf("expected registered handler to run once, got %d", app.recorder.hits)
	}
	reqID := resp.Header.Get(HeaderRequestID)
	if reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if app.recorder.lastRequestID != reqID {
		t.Fatalf("handler saw request id %q, response carried %q", app.recorder.lastRequestID, reqID)
	}
}

func TestRouterReturns404WhenRouteUnknown(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://binhub.local/nope", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"route_not_found"`)) {
		t.Fatalf("expected route_not_found error, got %s", string(body))
	}
	if resp.Header.Get(HeaderRequestID) == "" {
		t.Fatalf("404 responses should carry a request id")
	}
}

func TestRouterRecoversPanics(t *testing.T) {
	app := newTestApp(t, 5000)

	resp, err := app.Test(httptest.NewRequest("GET", "http://binhub.local/panic", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", resp.StatusCode)
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	if _, err := NewApp(AppOptions{ListenPort: 5000}); err == nil {
		t.Fatalf("missing logger should fail")
	}
	if _, err := NewApp(AppOptions{Logger: logrus.New()}); err == nil {
		t.Fatalf("missing port should fail")
	}
}

type testApp struct {
	*fiber.App
	recorder *handlerRecorder
}

func newTestApp(t *testing.T, port int) *testApp {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &handlerRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		ListenPort: port,
		Routes:     []RouteRegistrar{recorder.register},
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	return &testApp{App: app, recorder: recorder}
}

type handlerRecorder struct {
	hits          int
	lastRequestID string
}

func (h *handlerRecorder) register(r fiber.Router) {
	r.Get("/ping", func(c fiber.Ctx) error {
		h.hits++
		h.lastRequestID = RequestID(c)
		return c.SendStatus(fiber.StatusNoContent)
	})
	r.Get("/panic", func(c fiber.Ctx) error {
		panic("boom")
	})
}
