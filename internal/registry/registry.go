package registry

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/xiaofeng19920506/microservice/internal/config"
)

// Endpoint describes one upstream backend service. Endpoints are immutable
// after startup and shared read-only across request handlers.
type Endpoint struct {
	Name        string
	BaseURL     *url.URL
	Prefix      string // inbound path prefix routed to this service
	Timeout     time.Duration
	MaxRetries  int
	StripPrefix bool
}

// ErrServiceNotFound is returned when a service name is not registered.
// Resolving an unknown name is a programming error; the gateway validates
// all references at startup so this never fires for a live request.
var ErrServiceNotFound = fmt.Errorf("service not found")

// Registry is the static mapping from logical service name to endpoint.
// Populated once from configuration; read-only thereafter, so no locking.
type Registry struct {
	endpoints map[string]*Endpoint
	order     []string // service names sorted by prefix length, longest first
}

// DefaultTimeout applies when a service has no explicit timeout configured.
const DefaultTimeout = 30 * time.Second

// New builds a registry from configuration. Invalid entries are fatal.
func New(services map[string]config.ServiceConfig) (*Registry, error) {
	if len(services) == 0 {
		return nil, fmt.Errorf("no services configured")
	}

	r := &Registry{
		endpoints: make(map[string]*Endpoint, len(services)),
	}

	for name, svc := range services {
		base, err := url.Parse(svc.URL)
		if err != nil {
			return nil, fmt.Errorf("service %q: invalid url %q: %w", name, svc.URL, err)
		}
		if base.Scheme != "http" && base.Scheme != "https" {
			return nil, fmt.Errorf("service %q: unsupported scheme %q", name, base.Scheme)
		}

		timeout := svc.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}

		r.endpoints[name] = &Endpoint{
			Name:        name,
			BaseURL:     base,
			Prefix:      svc.Prefix,
			Timeout:     timeout,
			MaxRetries:  svc.MaxRetries,
			StripPrefix: svc.StripPrefix,
		}
		r.order = append(r.order, name)
	}

	// Longest prefix first so dispatch is deterministic when one service
	// prefix contains another.
	sort.Slice(r.order, func(i, j int) bool {
		pi := r.endpoints[r.order[i]].Prefix
		pj := r.endpoints[r.order[j]].Prefix
		if len(pi) != len(pj) {
			return len(pi) > len(pj)
		}
		return pi < pj
	})

	return r, nil
}

// Resolve returns the endpoint for a logical service name.
func (r *Registry) Resolve(name string) (*Endpoint, error) {
	ep, ok := r.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return ep, nil
}

// All returns every registered endpoint, longest prefix first.
func (r *Registry) All() []*Endpoint {
	out := make([]*Endpoint, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.endpoints[name])
	}
	return out
}

// Prefixes returns the registered inbound path prefixes, longest first.
func (r *Registry) Prefixes() []string {
	out := make([]string, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.endpoints[name].Prefix)
	}
	return out
}
