package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaofeng19920506/microservice/internal/logging"
	"github.com/xiaofeng19920506/microservice/internal/registry"
)

// Status represents the health of an upstream service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Config holds health checker configuration.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	// OnChange is called when a service's status changes.
	OnChange func(service string, status Status)
}

// Checker polls each registered service's GET /health endpoint, which every
// backend is contractually required to expose. Results are informational:
// they surface in the /api listing and metrics but requests are still
// forwarded regardless, so a flapping check cannot black-hole traffic.
type Checker struct {
	client    *http.Client
	interval  time.Duration
	endpoints []*registry.Endpoint
	onChange  func(string, Status)

	mu       sync.RWMutex
	statuses map[string]Status

	cancel context.CancelFunc
	done   chan struct{}
}

// NewChecker creates a health checker for the given endpoints.
func NewChecker(cfg Config, endpoints []*registry.Endpoint) *Checker {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	statuses := make(map[string]Status, len(endpoints))
	for _, ep := range endpoints {
		statuses[ep.Name] = StatusUnknown
	}

	return &Checker{
		client:    &http.Client{Timeout: timeout},
		interval:  interval,
		endpoints: endpoints,
		onChange:  cfg.OnChange,
		statuses:  statuses,
		done:      make(chan struct{}),
	}
}

// Start begins polling in the background until Stop is called.
func (c *Checker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go func() {
		defer close(c.done)

		// First pass immediately so /api doesn't report unknown for a
		// full interval after startup.
		c.checkAll(ctx)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.checkAll(ctx)
			}
		}
	}()
}

// Stop halts polling and waits for the poll loop to exit.
func (c *Checker) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// Status returns the last observed status for a service.
func (c *Checker) Status(service string) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if s, ok := c.statuses[service]; ok {
		return s
	}
	return StatusUnknown
}

func (c *Checker) checkAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ep := range c.endpoints {
		wg.Add(1)
		go func(ep *registry.Endpoint) {
			defer wg.Done()
			c.check(ctx, ep)
		}(ep)
	}
	wg.Wait()
}

func (c *Checker) check(ctx context.Context, ep *registry.Endpoint) {
	status := StatusUnhealthy

	healthURL := *ep.BaseURL
	healthURL.Path = singleSlashJoin(ep.BaseURL.Path, "/health")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err == nil {
		resp, err := c.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				status = StatusHealthy
			}
		}
	}

	c.mu.Lock()
	prev := c.statuses[ep.Name]
	c.statuses[ep.Name] = status
	c.mu.Unlock()

	if prev != status {
		logging.Info("upstream health changed",
			zap.String("service", ep.Name),
			zap.String("from", string(prev)),
			zap.String("to", string(status)),
		)
		if c.onChange != nil {
			c.onChange(ep.Name, status)
		}
	}
}

func singleSlashJoin(a, b string) string {
	if a == "" {
		return b
	}
	if a[len(a)-1] == '/' {
		return a + b[1:]
	}
	return a + b
}
