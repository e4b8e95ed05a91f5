package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/any-hub/shellcache/internal/config"
	"github.com/any-hub/shellcache/internal/strategy"
	"github.com/any-hub/shellcache/internal/version"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	if _, exists := dst["Connection"]; exists {
		t.Fatalf("connection header should not be copied")
	}
	if _, exists := dst["Keep-Alive"]; exists {
		t.Fatalf("keep-alive header should not be copied")
	}

	got := dst.Values("X-Test-Header")
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}

func TestHTTPNetworkFetchReadsFullResponse(t *testing.T) {
	var gotMethod, gotLang, gotAgent string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotLang = r.Header.Get("Accept-Language")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/css")
		w.Header().Set("Vary", "Accept-Language")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("body{}"))
	}))
	defer upstream.Close()

	u, _ := url.Parse(upstream.URL + "/static/css/style.css")
	network := NewHTTPNetwork(upstream.Client())
	resp, err := network.Fetch(context.Background(), &strategy.Request{
		Method: http.MethodGet,
		URL:    u,
		Header: http.Header{"Accept-Language": []string{"fi"}, "Connection": []string{"close"}},
	})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if gotMethod != http.MethodGet || gotLang != "fi" {
		t.Fatalf("unexpected upstream request: %s %s", gotMethod, gotLang)
	}
	if gotAgent != version.UserAgent() {
		t.Fatalf("expected default user agent, got %q", gotAgent)
	}
	if resp.Status != http.StatusOK || string(resp.Body) != "body{}" {
		t.Fatalf("unexpected response: %d %s", resp.Status, resp.Body)
	}
	if resp.Header.Get("Content-Type") != "text/css" {
		t.Fatalf("content type not preserved: %v", resp.Header)
	}
}

func TestHTTPNetworkReturnsNon2xxUnchanged(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer upstream.Close()

	u, _ := url.Parse(upstream.URL + "/missing")
	resp, err := NewHTTPNetwork(upstream.Client()).Fetch(context.Background(), &strategy.Request{Method: http.MethodGet, URL: u})
	if err != nil {
		t.Fatalf("non-2xx should not be a network failure: %v", err)
	}
	if resp.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Status)
	}
}

func TestHTTPNetworkWrapsTransportErrors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := upstream.URL
	upstream.Close()

	u, _ := url.Parse(addr + "/")
	_, err := NewHTTPNetwork(nil).Fetch(context.Background(), &strategy.Request{Method: http.MethodGet, URL: u})
	if !errors.Is(err, strategy.ErrNetworkFailure) {
		t.Fatalf("expected ErrNetworkFailure, got %v", err)
	}
}
