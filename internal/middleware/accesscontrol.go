package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xiaofeng19920506/microservice/internal/auth"
	"github.com/xiaofeng19920506/microservice/internal/errors"
	"github.com/xiaofeng19920506/microservice/internal/logging"
	"github.com/xiaofeng19920506/microservice/internal/metrics"
	"github.com/xiaofeng19920506/microservice/internal/policy"
)

// AccessControl authorizes requests before they reach the proxy. It unifies
// the optional / authenticated / staff-only / admin-only variants into one
// ordered decision driven by the route's policy class:
//
//  1. classify the request
//  2. public routes pass with no principal
//  3. missing bearer token  -> 401
//  4. failed verification   -> 403
//  5. revoked token         -> 403
//  6. staff route, customer -> 403
//  7. admin route, non-admin-staff -> 403
//  8. otherwise attach the principal to the context and continue
//
// Denials short-circuit: no upstream is contacted after a rejection.
type AccessControl struct {
	classifier *policy.Classifier
	verifier   *auth.Verifier
	revocation auth.RevocationStore
	metrics    *metrics.Metrics
}

// NewAccessControl creates the access control middleware. revocation and m
// may be nil; revocation defaults to the no-op store.
func NewAccessControl(classifier *policy.Classifier, verifier *auth.Verifier, revocation auth.RevocationStore, m *metrics.Metrics) *AccessControl {
	if revocation == nil {
		revocation = auth.NoopRevocationStore{}
	}
	return &AccessControl{
		classifier: classifier,
		verifier:   verifier,
		revocation: revocation,
		metrics:    m,
	}
}

// Middleware returns the authorization middleware.
func (ac *AccessControl) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pol := ac.classifier.Classify(r.Method, r.URL.Path)

			if pol.Require == policy.Public {
				next.ServeHTTP(w, r)
				return
			}

			token := extractBearerToken(r)
			if token == "" {
				ac.deny(w, r, "missing_token", errors.ErrMissingToken)
				return
			}

			principal, err := ac.verifier.Verify(token)
			if err != nil {
				logging.Debug("token verification failed",
					zap.String("request_id", GetRequestID(r)),
					zap.Error(err),
				)
				ac.deny(w, r, "invalid_token", errors.ErrInvalidToken)
				return
			}

			if principal.TokenID != "" {
				// Fails open on store errors; the store logs its own warning.
				if revoked, _ := ac.revocation.IsRevoked(r.Context(), principal.TokenID); revoked {
					ac.deny(w, r, "revoked_token", errors.ErrInvalidToken)
					return
				}
			}

			switch pol.Require {
			case policy.Staff:
				if !principal.IsStaff() {
					ac.deny(w, r, "insufficient_role", errors.ErrStaffRequired)
					return
				}
			case policy.Admin:
				if !principal.IsAdmin() {
					ac.deny(w, r, "insufficient_role", errors.ErrAdminRequired)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

func (ac *AccessControl) deny(w http.ResponseWriter, r *http.Request, reason string, err *errors.GatewayError) {
	if ac.metrics != nil {
		ac.metrics.DenialsTotal.WithLabelValues(reason).Inc()
	}
	err.WithRequestID(GetRequestID(r)).WriteJSON(w)
}

// extractBearerToken pulls the token out of the Authorization header.
// Returns "" for an absent or malformed header; the caller treats both as
// the missing-token condition.
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
