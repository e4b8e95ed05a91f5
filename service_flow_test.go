package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/config"
)

// originStub 模拟应用源站，按路径计数并允许替换响应体。
type originStub struct {
	mu     sync.Mutex
	server *httptest.Server
	bodies map[string]string
	hits   map[string]int
}

func newOriginStub(t *testing.T) *originStub {
	t.Helper()
	stub := &originStub{
		bodies: map[string]string{
			"/":                     "<html>shell v1</html>",
			"/static/css/style.css": "body{}",
			"/static/js/script.js":  "console.log(1)",
			"/offline.svg":          "<svg/>",
		},
		hits: make(map[string]int),
	}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.hits[r.Method+" "+r.URL.Path]++
		body, ok := stub.bodies[r.URL.Path]
		stub.mu.Unlock()
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, "created")
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *originStub) setBody(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[path] = body
}

func (s *originStub) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[key]
}

func newFlowService(t *testing.T, origin string) *service {
	t.Helper()
	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:   5000,
			StoragePath:  t.TempDir(),
			StoreBackend: cache.BackendMemory,
		},
		Shell: config.ShellConfig{
			Origin:             origin,
			Version:            "v1",
			Manifest:           []string{"/", "/static/css/style.css", "/static/js/script.js", "/offline.svg"},
			FallbackDocument:   "/",
			NavigationStrategy: "network-first",
			AssetStrategy:      "cache-first",
		},
		Fallbacks: []config.FallbackConfig{{Destination: "image", Document: "/offline.svg"}},
	}
	svc, err := newService(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func doFlowRequest(t *testing.T, svc *service, method, path string, header http.Header) (*http.Response, string) {
	t.Helper()
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader("payload")
	}
	req := httptest.NewRequest(method, path, body)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := svc.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	svc.router.Wait()
	return resp, string(raw)
}

var navigate = http.Header{"Sec-Fetch-Mode": []string{"navigate"}, "Sec-Fetch-Dest": []string{"document"}}

func TestServiceServesShellOnlineAndOffline(t *testing.T) {
	origin := newOriginStub(t)
	svc := newFlowService(t, origin.server.URL)
	require.Equal(t, "v1", svc.manager.Active())

	// 资源走 cache-first，安装之后不再访问源站。
	resp, body := doFlowRequest(t, svc, http.MethodGet, "/static/js/script.js", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "console.log(1)", body)
	assert.Equal(t, "cache", resp.Header.Get("X-Shellcache-Source"))
	assert.Equal(t, "v1", resp.Header.Get("X-Shellcache-Generation"))
	assert.Equal(t, 1, origin.count("GET /static/js/script.js"))

	// 导航走 network-first，在线时返回最新文档，但不写入缓存。
	origin.setBody("/", "<html>shell v1.1</html>")
	resp, body = doFlowRequest(t, svc, http.MethodGet, "/", navigate)
	assert.Equal(t, "network", resp.Header.Get("X-Shellcache-Source"))
	assert.Equal(t, "<html>shell v1.1</html>", body)

	origin.server.Close()

	// 离线导航返回安装时缓存的外壳文档。
	resp, body = doFlowRequest(t, svc, http.MethodGet, "/", navigate)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>shell v1</html>", body)
	assert.Equal(t, "fallback", resp.Header.Get("X-Shellcache-Source"))

	// 未缓存的深链接导航同样回退到外壳文档。
	resp, body = doFlowRequest(t, svc, http.MethodGet, "/dashboard/42", navigate)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fallback", resp.Header.Get("X-Shellcache-Source"))
	assert.Equal(t, "<html>shell v1</html>", body)

	resp, body = doFlowRequest(t, svc, http.MethodGet, "/img/avatar.png", http.Header{"Sec-Fetch-Dest": []string{"image"}})
	assert.Equal(t, "fallback", resp.Header.Get("X-Shellcache-Source"))
	assert.Equal(t, "<svg/>", body)

	resp, _ = doFlowRequest(t, svc, http.MethodGet, "/api/data.json", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, _ = doFlowRequest(t, svc, http.MethodPost, "/api/items", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestServicePostBypassesCache(t *testing.T) {
	origin := newOriginStub(t)
	svc := newFlowService(t, origin.server.URL)

	resp, body := doFlowRequest(t, svc, http.MethodPost, "/api/items", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "created", body)
	assert.Equal(t, "network", resp.Header.Get("X-Shellcache-Source"))

	keys, err := svc.store.Keys(context.Background(), "v1")
	require.NoError(t, err)
	assert.NotContains(t, keys, "POST "+origin.server.URL+"/api/items")
}

func TestServiceAdminInstallAndActivate(t *testing.T) {
	origin := newOriginStub(t)
	svc := newFlowService(t, origin.server.URL)

	origin.setBody("/static/js/script.js", "console.log(2)")
	resp, _ := doFlowRequest(t, svc, http.MethodPost, "/-/generations/v2/install", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// v2 处于 Waiting，请求仍由 v1 提供。
	resp, body := doFlowRequest(t, svc, http.MethodGet, "/static/js/script.js", nil)
	assert.Equal(t, "v1", resp.Header.Get("X-Shellcache-Generation"))
	assert.Equal(t, "console.log(1)", body)

	resp, _ = doFlowRequest(t, svc, http.MethodPost, "/-/generations/v2/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// 激活后的多次请求都应由 v2 提供，版本名不随后续请求变化。
	for _, path := range []string{"/static/css/style.css", "/pt", "/-/generations", "/static/js/script.js"} {
		doFlowRequest(t, svc, http.MethodGet, path, nil)
	}
	for i := 0; i < 3; i++ {
		resp, body = doFlowRequest(t, svc, http.MethodGet, "/static/js/script.js", nil)
		assert.Equal(t, "v2", resp.Header.Get("X-Shellcache-Generation"))
		assert.Equal(t, "console.log(2)", body)
	}
	assert.Equal(t, "v2", svc.manager.Active())

	names, err := svc.store.ListPartitions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, names)
}
