package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xiaofeng19920506/microservice/internal/auth"
	"github.com/xiaofeng19920506/microservice/internal/metrics"
	"github.com/xiaofeng19920506/microservice/internal/policy"
)

const acTestSecret = "access-control-test-secret"

func newTestAccessControl(t *testing.T) (*AccessControl, *auth.Verifier) {
	t.Helper()

	classifier, err := policy.NewClassifier(policy.DefaultEntries(), policy.Authenticated)
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	verifier, err := auth.NewVerifier(acTestSecret)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	return NewAccessControl(classifier, verifier, nil, metrics.New()), verifier
}

func signToken(t *testing.T, v *auth.Verifier, role auth.Role, class auth.Class) string {
	t.Helper()
	token, err := v.SignToken(&auth.Principal{
		SubjectID: "user-1",
		Email:     "user@example.com",
		Role:      role,
		Class:     class,
	}, time.Hour)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	return token
}

// okHandler records whether the request reached it and what principal it saw.
type okHandler struct {
	called    bool
	principal *auth.Principal
}

func (h *okHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.principal, _ = auth.PrincipalFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

func doRequest(ac *AccessControl, method, path, authorization string) (*httptest.ResponseRecorder, *okHandler) {
	upstream := &okHandler{}
	handler := ac.Middleware()(upstream)

	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, upstream
}

func TestPublicRoutePassesWithoutToken(t *testing.T) {
	ac, _ := newTestAccessControl(t)

	rec, upstream := doRequest(ac, "POST", "/api/auth/login", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !upstream.called {
		t.Error("public request did not reach upstream")
	}
	if upstream.principal != nil {
		t.Error("public request should carry no principal")
	}
}

func TestPublicRouteIgnoresBadToken(t *testing.T) {
	ac, _ := newTestAccessControl(t)

	rec, upstream := doRequest(ac, "GET", "/api/products/1", "Bearer garbage")
	if rec.Code != http.StatusOK || !upstream.called {
		t.Errorf("public route with garbage token: status = %d, called = %v", rec.Code, upstream.called)
	}
}

func TestMissingTokenDenied(t *testing.T) {
	ac, _ := newTestAccessControl(t)

	rec, upstream := doRequest(ac, "GET", "/api/orders", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if upstream.called {
		t.Error("denial must short-circuit, upstream was called")
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if body["message"] != "Access token is required" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestMalformedAuthorizationHeaderDenied(t *testing.T) {
	ac, v := newTestAccessControl(t)
	token := signToken(t, v, auth.RoleUser, auth.ClassCustomer)

	// Missing the Bearer scheme entirely.
	rec, _ := doRequest(ac, "GET", "/api/orders", token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bare token: status = %d, want 401", rec.Code)
	}

	rec, _ = doRequest(ac, "GET", "/api/orders", "Basic dXNlcjpwdw==")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("basic auth: status = %d, want 401", rec.Code)
	}
}

func TestInvalidTokenDenied(t *testing.T) {
	ac, _ := newTestAccessControl(t)

	rec, upstream := doRequest(ac, "GET", "/api/orders", "Bearer not.a.token")
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if upstream.called {
		t.Error("upstream called for invalid token")
	}

	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["message"] != "Invalid or expired token" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestExpiredTokenDenied(t *testing.T) {
	ac, v := newTestAccessControl(t)
	token, err := v.SignToken(&auth.Principal{SubjectID: "user-1"}, -time.Minute)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	rec, _ := doRequest(ac, "GET", "/api/orders", "Bearer "+token)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestAuthenticatedRoutePassesPrincipal(t *testing.T) {
	ac, v := newTestAccessControl(t)
	token := signToken(t, v, auth.RoleUser, auth.ClassCustomer)

	rec, upstream := doRequest(ac, "GET", "/api/orders", "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if upstream.principal == nil {
		t.Fatal("principal not attached to context")
	}
	if upstream.principal.SubjectID != "user-1" {
		t.Errorf("SubjectID = %q", upstream.principal.SubjectID)
	}
}

func TestStaffRoute(t *testing.T) {
	ac, v := newTestAccessControl(t)

	tests := []struct {
		name   string
		role   auth.Role
		class  auth.Class
		status int
	}{
		{"customer denied", auth.RoleUser, auth.ClassCustomer, http.StatusForbidden},
		{"customer with admin role denied", auth.RoleAdmin, auth.ClassCustomer, http.StatusForbidden},
		{"staff user allowed", auth.RoleUser, auth.ClassStaff, http.StatusOK},
		{"staff manager allowed", auth.RoleManager, auth.ClassStaff, http.StatusOK},
		{"staff admin allowed", auth.RoleAdmin, auth.ClassStaff, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := signToken(t, v, tt.role, tt.class)
			rec, _ := doRequest(ac, "POST", "/api/products", "Bearer "+token)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusForbidden {
				var body map[string]any
				json.Unmarshal(rec.Body.Bytes(), &body)
				if body["message"] != "Staff access required" {
					t.Errorf("message = %v", body["message"])
				}
			}
		})
	}
}

func TestAdminRoute(t *testing.T) {
	ac, v := newTestAccessControl(t)

	tests := []struct {
		name   string
		role   auth.Role
		class  auth.Class
		status int
	}{
		{"staff admin allowed", auth.RoleAdmin, auth.ClassStaff, http.StatusOK},
		{"staff manager denied", auth.RoleManager, auth.ClassStaff, http.StatusForbidden},
		{"staff user denied", auth.RoleUser, auth.ClassStaff, http.StatusForbidden},
		{"customer admin denied", auth.RoleAdmin, auth.ClassCustomer, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := signToken(t, v, tt.role, tt.class)
			rec, _ := doRequest(ac, "GET", "/api/users/staff", "Bearer "+token)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusForbidden {
				var body map[string]any
				json.Unmarshal(rec.Body.Bytes(), &body)
				if body["message"] != "Admin staff access required" {
					t.Errorf("message = %v", body["message"])
				}
			}
		})
	}
}

// revokedSet reports a fixed set of token ids as revoked.
type revokedSet map[string]bool

func (s revokedSet) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	return s[tokenID], nil
}

func (s revokedSet) Revoke(_ context.Context, tokenID string, _ time.Duration) error {
	s[tokenID] = true
	return nil
}

func TestRevokedTokenDenied(t *testing.T) {
	classifier, err := policy.NewClassifier(policy.DefaultEntries(), policy.Authenticated)
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	verifier, err := auth.NewVerifier(acTestSecret)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	token, err := verifier.SignToken(&auth.Principal{
		SubjectID: "user-1",
		Role:      auth.RoleUser,
		Class:     auth.ClassCustomer,
		TokenID:   "revoked-jti",
	}, time.Hour)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	ac := NewAccessControl(classifier, verifier, revokedSet{"revoked-jti": true}, nil)

	rec, upstream := doRequest(ac, "GET", "/api/orders", "Bearer "+token)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if upstream.called {
		t.Error("upstream called for revoked token")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"BEARER abc", "abc"},
		{"Bearer  abc", "abc"},
		{"Bearer", ""},
		{"Bearer ", ""},
		{"Token abc", ""},
		{"abc", ""},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := extractBearerToken(req); got != tt.want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
