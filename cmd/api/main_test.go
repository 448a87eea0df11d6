package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/nestscout/internal/app"
	"github.com/onnwee/nestscout/internal/config"
	"github.com/onnwee/nestscout/internal/middleware"
)

const testSeed = `
categories:
  - {id: 1, name: metro}
listings:
  - id: 1
    title: Flat in Gracia
    location: {latitude: 41.389, longitude: 2.159}
pois:
  - {id: 1, name: Diagonal, category_id: 1, location: {latitude: 41.3926, longitude: 2.159}}
profiles:
  - id: 1
    name: commuter
    rules:
      - {rule_type: poi_proximity, poi_category_id: 1, max_distance_m: 1000, weight: 1}
`

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig() *config.Config {
	return &config.Config{
		Env:                       config.DefaultEnv,
		DatabaseDriver:            "sqlite",
		DatabaseURL:               ":memory:",
		SpatialIndex:              "cell",
		ScoringWorkers:            2,
		PrecomputeRadiusM:         config.DefaultPrecomputeRadiusM,
		RecomputeIntervalSeconds:  config.DefaultRecomputeIntervalSeconds,
		DistanceCacheTTLSeconds:   config.DefaultDistanceCacheTTLSeconds,
		ComputeRateLimitPerMinute: 2,
	}
}

func writeSeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(testSeed), 0o600); err != nil {
		t.Fatalf("failed to write seed: %v", err)
	}
	return path
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	a, err := app.New(context.Background(), app.Options{Config: testConfig(), SeedPath: writeSeed(t), Logger: quietLogger})
	if err != nil {
		t.Fatalf("app.New failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return newHandler(a, middleware.NewLimiter(middleware.PerMinute(2)))
}

func TestHandler_Routes(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
		wantBody   string
	}{
		{"root", http.MethodGet, "/", http.StatusOK, `"service":"nestscout-api"`},
		{"health", http.MethodGet, "/health", http.StatusOK, `"status":"healthy"`},
		{"ready", http.MethodGet, "/ready", http.StatusOK, `"status":"healthy"`},
		{"profile", http.MethodGet, "/profiles/1", http.StatusOK, `"name":"commuter"`},
		{"compute", http.MethodPost, "/scores/1/compute", http.StatusOK, `"count":1`},
		{"nearby", http.MethodGet, "/pois/nearby?lat=41.389&lng=2.159", http.StatusOK, `"total":1`},
		{"unknown route", http.MethodGet, "/listings", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.target, nil))

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), tt.wantBody) {
				t.Errorf("body %s does not contain %s", rr.Body.String(), tt.wantBody)
			}
			if rr.Header().Get("X-Request-ID") == "" {
				t.Error("every response should carry a request id")
			}
		})
	}
}

func TestHandler_MetricsExposed(t *testing.T) {
	h := newTestHandler(t)

	// Generate one observed request first.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/profiles/1", nil))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, name := range []string{"go_goroutines", "http_requests_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestHandler_ComputeRateLimited(t *testing.T) {
	h := newTestHandler(t)

	var last int
	for range 3 {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/scores/1/compute", nil))
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third compute status = %d, want 429", last)
	}
}

func TestRun_GracefulShutdown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	cfg := testConfig()
	cfg.Port = port
	seed := writeSeed(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, seed, quietLogger) }()

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/health"
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("health status = %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not shut down")
	}
}
