package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/server"
)

func newHandlerApp(t *testing.T, h *harness) *fiber.App {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	handler, err := NewHandler(h.router, testOrigin, []string{"https://api.example.com/public/"}, logger)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	app, err := server.NewApp(server.AppOptions{Logger: logger, Proxy: handler, ListenPort: 5000})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	return app
}

func TestHandlerServesCachedAssetWithHeaders(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t, "v1")
	h.network.setOffline(true)
	app := newHandlerApp(t, h)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "http://localhost:5000/app.css", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "body{}" {
		t.Fatalf("unexpected response: %d %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("X-Shellcache-Source"); got != "cache" {
		t.Fatalf("expected cache source, got %q", got)
	}
	if got := resp.Header.Get("X-Shellcache-Generation"); got != "v1" {
		t.Fatalf("expected generation v1, got %q", got)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/plain" {
		t.Fatalf("expected stored content type, got %q", got)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestHandlerNavigationFallback(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t, "v1")
	h.network.setOffline(true)
	app := newHandlerApp(t, h)

	req := httptest.NewRequest(http.MethodGet, "http://localhost:5000/dashboard?tab=2", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Dest", "document")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "<html>shell</html>" {
		t.Fatalf("unexpected response: %d %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("X-Shellcache-Source"); got != "fallback" {
		t.Fatalf("expected fallback source, got %q", got)
	}
}

func TestHandlerNetworkFailureReturnsBadGateway(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t, "v1")
	h.network.setOffline(true)
	app := newHandlerApp(t, h)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "http://localhost:5000/img/photo.png", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"network_failure"`) {
		t.Fatalf("expected network_failure error, got %s", body)
	}
}

func TestHandlerForwardsPostToOrigin(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t, "v1")
	app := newHandlerApp(t, h)
	before := h.store.count()

	req := httptest.NewRequest(http.MethodPost, "http://localhost:5000/api/items", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if h.store.count() != before {
		t.Fatalf("POST must not touch the store")
	}

	h.network.mu.Lock()
	last := h.network.calls[len(h.network.calls)-1]
	h.network.mu.Unlock()
	if last != "POST "+testOrigin+"/api/items" {
		t.Fatalf("unexpected upstream call: %s", last)
	}
}
