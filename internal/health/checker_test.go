package health

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/xiaofeng19920506/microservice/internal/config"
	"github.com/xiaofeng19920506/microservice/internal/registry"
)

func endpointsFor(t *testing.T, urls map[string]string) []*registry.Endpoint {
	t.Helper()
	services := make(map[string]config.ServiceConfig, len(urls))
	for name, u := range urls {
		services[name] = config.ServiceConfig{URL: u, Prefix: "/api/" + name}
	}
	reg, err := registry.New(services)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg.All()
}

func TestCheckerInitialUnknown(t *testing.T) {
	eps := endpointsFor(t, map[string]string{"user": "http://localhost:3002"})
	c := NewChecker(Config{Interval: time.Hour}, eps)

	if got := c.Status("user"); got != StatusUnknown {
		t.Errorf("Status before Start = %q, want unknown", got)
	}
	if got := c.Status("missing"); got != StatusUnknown {
		t.Errorf("Status for unregistered service = %q, want unknown", got)
	}
}

func TestCheckerMarksHealthyAndUnhealthy(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("probe path = %q, want /health", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	eps := endpointsFor(t, map[string]string{
		"user":  healthy.URL,
		"order": failing.URL,
		"down":  "http://127.0.0.1:1",
	})

	var mu sync.Mutex
	changes := make(map[string]Status)
	c := NewChecker(Config{
		Interval: time.Hour, // only the immediate first pass matters here
		Timeout:  2 * time.Second,
		OnChange: func(service string, status Status) {
			mu.Lock()
			changes[service] = status
			mu.Unlock()
		},
	}, eps)

	c.Start()
	defer c.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status("user") != StatusUnknown &&
			c.Status("order") != StatusUnknown &&
			c.Status("down") != StatusUnknown {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := c.Status("user"); got != StatusHealthy {
		t.Errorf("user status = %q, want healthy", got)
	}
	if got := c.Status("order"); got != StatusUnhealthy {
		t.Errorf("order status = %q, want unhealthy (non-200 probe)", got)
	}
	if got := c.Status("down"); got != StatusUnhealthy {
		t.Errorf("down status = %q, want unhealthy (connection refused)", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if changes["user"] != StatusHealthy {
		t.Errorf("OnChange for user = %q, want healthy", changes["user"])
	}
	if changes["order"] != StatusUnhealthy {
		t.Errorf("OnChange for order = %q, want unhealthy", changes["order"])
	}
}

func TestCheckerStopBeforeStart(t *testing.T) {
	eps := endpointsFor(t, map[string]string{"user": "http://localhost:3002"})
	c := NewChecker(Config{}, eps)
	c.Stop() // must not panic or block
}

func TestSingleSlashJoin(t *testing.T) {
	tests := []struct{ a, b, want string }{
		{"", "/health", "/health"},
		{"/base", "/health", "/base/health"},
		{"/base/", "/health", "/base/health"},
	}
	for _, tt := range tests {
		if got := singleSlashJoin(tt.a, tt.b); got != tt.want {
			t.Errorf("singleSlashJoin(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}
