package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xiaofeng19920506/microservice/internal/auth"
	"github.com/xiaofeng19920506/microservice/internal/config"
	"github.com/xiaofeng19920506/microservice/internal/errors"
	"github.com/xiaofeng19920506/microservice/internal/health"
	"github.com/xiaofeng19920506/microservice/internal/logging"
	"github.com/xiaofeng19920506/microservice/internal/metrics"
	"github.com/xiaofeng19920506/microservice/internal/middleware"
	"github.com/xiaofeng19920506/microservice/internal/middleware/ratelimit"
	"github.com/xiaofeng19920506/microservice/internal/policy"
	"github.com/xiaofeng19920506/microservice/internal/proxy"
	"github.com/xiaofeng19920506/microservice/internal/registry"
)

// Version is the gateway version reported by the introspection endpoints.
var Version = "1.0.0"

// pipeline binds one service prefix to its middleware-wrapped proxy handler.
type pipeline struct {
	prefix  string
	service string
	handler http.Handler
}

// Gateway wires path prefixes to access-controlled proxy pipelines and
// exposes the introspection endpoints.
type Gateway struct {
	config     *config.Config
	registry   *registry.Registry
	classifier *policy.Classifier
	verifier   *auth.Verifier
	forwarder  *proxy.Forwarder
	checker    *health.Checker
	metrics    *metrics.Metrics
	redis      *redis.Client

	pipelines []pipeline
	handler   http.Handler
	startTime time.Time
}

// New creates a gateway from configuration. Invalid references such as a
// malformed service URL or a shadowed policy entry are fatal here, before
// the server starts accepting traffic.
func New(cfg *config.Config) (*Gateway, error) {
	g := &Gateway{
		config:    cfg,
		metrics:   metrics.New(),
		startTime: time.Now(),
	}

	reg, err := registry.New(cfg.Services)
	if err != nil {
		return nil, fmt.Errorf("service registry: %w", err)
	}
	g.registry = reg

	classifier, err := buildClassifier(cfg.Policies)
	if err != nil {
		return nil, fmt.Errorf("route policies: %w", err)
	}
	g.classifier = classifier

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("token verifier: %w", err)
	}
	g.verifier = verifier

	if cfg.Redis.Addr != "" {
		g.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	g.forwarder = proxy.NewForwarder(proxy.NewTransport(proxy.DefaultTransportConfig), g.metrics)

	g.checker = health.NewChecker(health.Config{
		Interval: cfg.HealthCheck.Interval,
		Timeout:  cfg.HealthCheck.Timeout,
		OnChange: g.recordHealth,
	}, reg.All())

	g.buildPipelines()
	g.buildHandler()

	return g, nil
}

// buildClassifier compiles configured policies, falling back to the
// built-in table when none are configured. Unmatched paths classify as
// authenticated, never public.
func buildClassifier(policies []config.PolicyConfig) (*policy.Classifier, error) {
	entries := policy.DefaultEntries()
	if len(policies) > 0 {
		entries = make([]policy.Entry, 0, len(policies))
		for _, p := range policies {
			class, err := policy.ParseAccessClass(p.Require)
			if err != nil {
				return nil, err
			}
			entries = append(entries, policy.Entry{
				Prefix:  p.Prefix,
				Methods: p.Methods,
				Require: class,
			})
		}
	}
	return policy.NewClassifier(entries, policy.Authenticated)
}

// buildPipelines assembles one handler chain per registered service:
// rate limiting, then access control, then the proxy forwarder.
func (g *Gateway) buildPipelines() {
	var revocation auth.RevocationStore
	if g.config.Revocation.Enabled && g.redis != nil {
		revocation = auth.NewRedisRevocationStore(g.redis, g.config.Revocation.Prefix)
	}

	accessControl := middleware.NewAccessControl(g.classifier, g.verifier, revocation, g.metrics)

	var edge []middleware.Middleware
	if g.config.RateLimit.Enabled {
		if g.config.RateLimit.SpikeArrest.Enabled {
			sa := ratelimit.NewSpikeArrester(
				g.config.RateLimit.SpikeArrest.Rate,
				g.config.RateLimit.SpikeArrest.Burst,
			)
			edge = append(edge, sa.Middleware())
		}

		limitCfg := ratelimit.Config{
			Window: g.config.RateLimit.Window,
			Max:    g.config.RateLimit.Max,
		}
		onLimited := func() { g.metrics.RateLimited.Inc() }
		if g.config.RateLimit.Distributed && g.redis != nil {
			edge = append(edge, ratelimit.NewRedisLimiter(g.redis, limitCfg).Middleware(onLimited))
		} else {
			edge = append(edge, ratelimit.NewFixedWindow(limitCfg).Middleware(onLimited))
		}
	}

	for _, ep := range g.registry.All() {
		chain := middleware.NewChain(g.observe(ep.Name)).
			Append(edge...).
			Append(accessControl.Middleware())

		g.pipelines = append(g.pipelines, pipeline{
			prefix:  ep.Prefix,
			service: ep.Name,
			handler: chain.Then(g.forwarder.Handler(ep)),
		})

		logging.Info("registered service route",
			zap.String("service", ep.Name),
			zap.String("prefix", ep.Prefix),
			zap.String("upstream", ep.BaseURL.String()),
			zap.Duration("timeout", ep.Timeout),
			zap.Int("max_retries", ep.MaxRetries),
		)
	}
}

// buildHandler assembles the top-level handler: introspection endpoints on
// an exact-match router, service prefixes dispatched to their pipelines,
// and a structured 404 as the terminal state for everything else.
func (g *Gateway) buildHandler() {
	tree := httprouter.New()
	tree.HandleMethodNotAllowed = false
	tree.RedirectTrailingSlash = false
	tree.RedirectFixedPath = false

	tree.HandlerFunc(http.MethodGet, "/health", g.handleHealth)
	tree.HandlerFunc(http.MethodGet, "/api", g.handleAPIIndex)
	tree.Handler(http.MethodGet, "/metrics", g.metrics.Handler())
	tree.NotFound = http.HandlerFunc(g.dispatch)

	g.handler = middleware.NewChain(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.AccessLog("/health", "/metrics"),
	).Then(tree)
}

// Handler returns the gateway's root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// HealthChecker returns the upstream health checker.
func (g *Gateway) HealthChecker() *health.Checker {
	return g.checker
}

// Close releases gateway resources.
func (g *Gateway) Close() error {
	if g.redis != nil {
		return g.redis.Close()
	}
	return nil
}

// dispatch selects the pipeline whose prefix owns the request path.
// Pipelines are ordered longest prefix first, so selection is deterministic
// even when one service prefix contains another.
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	for i := range g.pipelines {
		if matchesPrefix(path, g.pipelines[i].prefix) {
			g.pipelines[i].handler.ServeHTTP(w, r)
			return
		}
	}

	g.notFound(w, r)
}

// matchesPrefix reports whether path falls under prefix at a segment
// boundary, so /api/users does not capture /api/users-export.
func matchesPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

func (g *Gateway) notFound(w http.ResponseWriter, r *http.Request) {
	errors.ErrRouteNotFound.
		WithMessage(fmt.Sprintf("Route %s %s does not exist", r.Method, r.URL.Path)).
		WithRoutes(g.registry.Prefixes()).
		WithRequestID(middleware.GetRequestID(r)).
		WriteJSON(w)
}

// handleHealth reports gateway liveness. It never depends on upstream
// health: the gateway being up is a separate fact from its backends.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "API Gateway",
		"version":   Version,
		"uptime":    time.Since(g.startTime).Round(time.Second).String(),
	})
}

// serviceInfo is one entry in the /api service listing.
type serviceInfo struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Routes  string `json:"routes"`
	Healthy string `json:"health"`
}

// handleAPIIndex lists the registered services and their base routes.
func (g *Gateway) handleAPIIndex(w http.ResponseWriter, r *http.Request) {
	services := make([]serviceInfo, 0, len(g.pipelines))
	for _, ep := range g.registry.All() {
		services = append(services, serviceInfo{
			Name:    ep.Name,
			URL:     ep.BaseURL.String(),
			Routes:  ep.Prefix,
			Healthy: string(g.checker.Status(ep.Name)),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":     "API Gateway",
		"version":  Version,
		"services": services,
		"endpoints": map[string]string{
			"health":  "/health",
			"api":     "/api",
			"metrics": "/metrics",
		},
	})
}

// recordHealth mirrors health transitions into the metrics gauge.
func (g *Gateway) recordHealth(service string, status health.Status) {
	v := 0.0
	if status == health.StatusHealthy {
		v = 1.0
	}
	g.metrics.UpstreamHealthy.WithLabelValues(service).Set(v)
}

// observe records request count and latency for one service.
func (g *Gateway) observe(service string) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sr, r)

			g.metrics.ObserveRequest(service, r.Method, sr.status, time.Since(start))
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
