package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mselser95/venuecoord/pkg/healthprobe"
	"go.uber.org/zap"
)

func newTestServer(coord Coordinator, started bool) *Server {
	hc := healthprobe.New()
	hc.SetReady(started)

	return New(&Config{
		Port:          "0",
		Logger:        zap.NewNop(),
		HealthChecker: hc,
		Coordinator:   coord,
	})
}

func TestServer_Routes(t *testing.T) {
	tests := []struct {
		name       string
		coord      Coordinator
		started    bool
		path       string
		wantStatus int
	}{
		{name: "health_before_start", path: "/health", wantStatus: http.StatusOK},
		{name: "ready_before_start", path: "/ready", wantStatus: http.StatusServiceUnavailable},
		{name: "ready_after_start", started: true, path: "/ready", wantStatus: http.StatusOK},
		{name: "metrics", path: "/metrics", wantStatus: http.StatusOK},
		{name: "unknown_route", path: "/nonexistent", wantStatus: http.StatusNotFound},
		{name: "api_with_coordinator", coord: &fakeCoordinator{}, path: "/api/exchanges", wantStatus: http.StatusOK},
		{name: "api_without_coordinator", path: "/api/exchanges", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(tt.coord, tt.started)

			w := httptest.NewRecorder()
			server.server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.wantStatus {
				t.Errorf("%s status = %d, want %d", tt.path, w.Code, tt.wantStatus)
			}
			if tt.path == "/metrics" && w.Body.Len() == 0 {
				t.Error("Metrics endpoint returned empty body")
			}
		})
	}
}

func TestServer_Timeouts(t *testing.T) {
	server := newTestServer(nil, false)

	if server.server.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout = %v, want %v", server.server.ReadTimeout, 15*time.Second)
	}
	if server.server.ReadHeaderTimeout != 10*time.Second {
		t.Errorf("ReadHeaderTimeout = %v, want %v", server.server.ReadHeaderTimeout, 10*time.Second)
	}
	if server.server.WriteTimeout != 15*time.Second {
		t.Errorf("WriteTimeout = %v, want %v", server.server.WriteTimeout, 15*time.Second)
	}
	if server.server.IdleTimeout != 60*time.Second {
		t.Errorf("IdleTimeout = %v, want %v", server.server.IdleTimeout, 60*time.Second)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	server := newTestServer(&fakeCoordinator{}, true)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	select {
	case err := <-serverDone:
		if err != nil {
			t.Errorf("Start() returned error after shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after shutdown")
	}
}
