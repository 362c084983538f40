package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/xiaofeng19920506/microservice/internal/auth"
	"github.com/xiaofeng19920506/microservice/internal/errors"
	"github.com/xiaofeng19920506/microservice/internal/logging"
	"github.com/xiaofeng19920506/microservice/internal/metrics"
	"github.com/xiaofeng19920506/microservice/internal/middleware"
	"github.com/xiaofeng19920506/microservice/internal/registry"
)

// retryableMethods are the only methods the forwarder ever retries.
var retryableMethods = map[string]bool{
	http.MethodGet:  true,
	http.MethodHead: true,
}

// Forwarder streams accepted requests to their resolved upstream and relays
// the response verbatim. A request reaching the forwarder has already
// satisfied its route policy; no authorization is re-checked here.
type Forwarder struct {
	transport http.RoundTripper
	metrics   *metrics.Metrics
}

// NewForwarder creates a forwarder using the given transport. m may be nil.
func NewForwarder(transport http.RoundTripper, m *metrics.Metrics) *Forwarder {
	if transport == nil {
		transport = NewTransport(DefaultTransportConfig)
	}
	return &Forwarder{transport: transport, metrics: m}
}

// Handler returns the proxy handler for one endpoint. The circuit breaker
// is created once per endpoint so a dead backend is rejected fast instead
// of burning its full timeout on every request.
func (f *Forwarder) Handler(ep *registry.Endpoint) http.Handler {
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        ep.Name,
		MaxRequests: 3,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("circuit breaker state changed",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The upstream call is bounded by the endpoint timeout; client
		// disconnect cancels it through the parent context.
		ctx, cancel := context.WithTimeout(r.Context(), ep.Timeout)
		defer cancel()

		resp, err := f.roundTrip(ctx, r, ep, breaker)
		if err != nil {
			f.writeUnavailable(w, r, ep, err)
			return
		}
		defer resp.Body.Close()

		// Relay status and body byte-for-byte; upstream error bodies are
		// not reinterpreted.
		copyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	})
}

// roundTrip performs the upstream call, retrying idempotent methods up to
// the endpoint's retry budget with capped exponential backoff.
func (f *Forwarder) roundTrip(ctx context.Context, r *http.Request, ep *registry.Endpoint, breaker *gobreaker.CircuitBreaker[*http.Response]) (*http.Response, error) {
	retries := ep.MaxRetries
	if !retryableMethods[r.Method] {
		retries = 0
	}

	// Buffer the body when a retryable request carries one so each attempt
	// can replay it.
	var bodyBytes []byte
	if retries > 0 && r.Body != nil && r.ContentLength != 0 {
		var err error
		bodyBytes, err = io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffering request body: %w", err)
		}
	}

	attempt := func() (*http.Response, error) {
		req := f.buildRequest(ctx, r, ep, bodyBytes)
		resp, err := breaker.Execute(func() (*http.Response, error) {
			return f.transport.RoundTrip(req)
		})
		if err != nil {
			// A rejecting breaker or an expired deadline will not recover
			// within this request; stop retrying immediately.
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests || ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return resp, nil
	}

	if retries == 0 {
		resp, err := attempt()
		if perm, ok := err.(*backoff.PermanentError); ok {
			return nil, perm.Unwrap()
		}
		return resp, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	return backoff.RetryNotifyWithData(attempt,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx),
		func(err error, next time.Duration) {
			if f.metrics != nil {
				f.metrics.RetriesTotal.WithLabelValues(ep.Name).Inc()
			}
			logging.Debug("retrying upstream request",
				zap.String("service", ep.Name),
				zap.String("request_id", middleware.GetRequestID(r)),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		},
	)
}

// buildRequest constructs the outbound request: same method, path and body,
// headers minus Host and hop-by-hop, plus tracing and principal headers.
func (f *Forwarder) buildRequest(ctx context.Context, r *http.Request, ep *registry.Endpoint, bodyBytes []byte) *http.Request {
	target := *ep.BaseURL

	path := r.URL.Path
	if ep.StripPrefix {
		path = stripPrefix(ep.Prefix, path)
	}
	target.Path = singleJoiningSlash(ep.BaseURL.Path, path)
	target.RawQuery = r.URL.RawQuery

	body := r.Body
	contentLength := r.ContentLength
	if bodyBytes != nil {
		body = io.NopCloser(bytes.NewReader(bodyBytes))
		contentLength = int64(len(bodyBytes))
	}

	req := (&http.Request{
		Method:        r.Method,
		URL:           &target,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          body,
		ContentLength: contentLength,
		Host:          ep.BaseURL.Host,
	}).WithContext(ctx)

	req.Header = make(http.Header, len(r.Header)+4)
	for k, vv := range r.Header {
		req.Header[k] = vv
	}
	removeHopHeaders(req.Header)

	// Tracing and principal propagation.
	if requestID := middleware.GetRequestID(r); requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		req.Header.Set("X-User-Id", p.SubjectID)
		req.Header.Set("X-User-Role", string(p.Role))
	}

	// Standard forwarding headers.
	if clientIP := clientAddr(r); clientIP != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			req.Header.Set("X-Forwarded-For", clientIP)
		}
	}
	if r.TLS != nil {
		req.Header.Set("X-Forwarded-Proto", "https")
	} else {
		req.Header.Set("X-Forwarded-Proto", "http")
	}
	req.Header.Set("X-Forwarded-Host", r.Host)

	return req
}

// writeUnavailable converts any upstream failure into the structured 503.
// Raw connection errors never reach the client.
func (f *Forwarder) writeUnavailable(w http.ResponseWriter, r *http.Request, ep *registry.Endpoint, err error) {
	if f.metrics != nil {
		f.metrics.UpstreamFailures.WithLabelValues(ep.Name).Inc()
	}

	logging.Error("upstream request failed",
		zap.String("service", ep.Name),
		zap.String("request_id", middleware.GetRequestID(r)),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)

	errors.ErrUpstreamUnavailable.
		WithService(ep.Name).
		WithMessage(fmt.Sprintf("The %s service is currently unavailable", ep.Name)).
		WithRequestID(middleware.GetRequestID(r)).
		WriteJSON(w)
}

// Hop-by-hop headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

// copyHeaders copies headers from src to dst, dropping hop-by-hop entries.
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append(dst[k][:0:0], vv...)
	}
	removeHopHeaders(dst)
}

// clientAddr returns the client IP portion of RemoteAddr.
func clientAddr(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// singleJoiningSlash joins two URL paths with a single slash.
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// stripPrefix removes the route prefix from the request path. The result
// always begins with a slash so upstreams see a rooted path.
func stripPrefix(prefix, path string) string {
	suffix := strings.TrimPrefix(path, prefix)
	if suffix == "" {
		return "/"
	}
	if !strings.HasPrefix(suffix, "/") {
		suffix = "/" + suffix
	}
	return suffix
}
