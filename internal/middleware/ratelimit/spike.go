package ratelimit

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/xiaofeng19920506/microservice/internal/errors"
	"github.com/xiaofeng19920506/microservice/internal/middleware"
)

// SpikeArrester rejects traffic bursts immediately, ahead of the fixed
// window counter. The window limiter caps volume over minutes; this caps
// instantaneous rate so a burst cannot consume the whole window at once.
type SpikeArrester struct {
	limiter *rate.Limiter
}

// NewSpikeArrester creates a global spike arrester allowing rps requests
// per second with the given burst (burst defaults to rps).
func NewSpikeArrester(rps, burst int) *SpikeArrester {
	if burst <= 0 {
		burst = rps
	}
	return &SpikeArrester{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Middleware returns a middleware rejecting requests above the rate.
func (sa *SpikeArrester) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sa.limiter.Allow() {
				errors.ErrTooManyRequests.WriteJSON(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
