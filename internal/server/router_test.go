package server

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterHandsRequestsToProxy(t *testing.T) {
	app, recorder := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://app.local/static/js/script.js?v=2", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s)", resp.StatusCode, string(body))
	}
	if recorder.lastPath != "/static/js/script.js" {
		t.Fatalf("expected proxy to see request path, got %s", recorder.lastPath)
	}
	reqID := resp.Header.Get("X-Request-ID")
	if reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if recorder.lastRequestID != reqID {
		t.Fatalf("handler request id %s does not match header %s", recorder.lastRequestID, reqID)
	}
}

func TestRouterLeavesAdminPathsToLaterRoutes(t *testing.T) {
	app, recorder := newTestApp(t, 5000)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "http://app.local/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "pong" {
		t.Fatalf("unexpected admin response: %d %s", resp.StatusCode, body)
	}
	if recorder.calls != 0 {
		t.Fatalf("admin path should not reach the proxy")
	}
}

func TestRequestValuesOutliveTheRequest(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	var seen []string
	app, err := NewApp(AppOptions{
		Logger: logger,
		Proxy: ProxyHandlerFunc(func(c fiber.Ctx) error {
			seen = append(seen, c.Path())
			return c.SendStatus(fiber.StatusNoContent)
		}),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	paths := []string{"/v2", "/static/css/style.css", "/pt", "/dashboard/settings"}
	for _, path := range paths {
		resp, err := app.Test(httptest.NewRequest("GET", "http://app.local"+path, nil))
		if err != nil {
			t.Fatalf("app.Test failed: %v", err)
		}
		resp.Body.Close()
	}
	for i, path := range paths {
		if seen[i] != path {
			t.Fatalf("request %d: stored path changed to %q, want %q", i, seen[i], path)
		}
	}
}

func TestNewAppRequiresDependencies(t *testing.T) {
	logger := logrus.New()
	if _, err := NewApp(AppOptions{Logger: logger, ListenPort: 5000}); err == nil {
		t.Fatalf("expected error without proxy handler")
	}
	if _, err := NewApp(AppOptions{Logger: logger, Proxy: &proxyRecorder{}}); err == nil {
		t.Fatalf("expected error without listen port")
	}
}

func newTestApp(t *testing.T, port int) (*fiber.App, *proxyRecorder) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &proxyRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Proxy:      recorder,
		ListenPort: port,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app, recorder
}

type proxyRecorder struct {
	calls         int
	lastPath      string
	lastRequestID string
}

func (p *proxyRecorder) Handle(c fiber.Ctx) error {
	p.calls++
	p.lastPath = c.Path()
	p.lastRequestID = RequestID(c)
	return c.SendStatus(fiber.StatusNoContent)
}
