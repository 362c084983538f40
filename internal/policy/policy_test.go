package policy

import (
	"testing"
)

func TestClassifyDefaultTable(t *testing.T) {
	c, err := NewClassifier(DefaultEntries(), Authenticated)
	if err != nil {
		t.Fatalf("failed to build classifier: %v", err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		want   AccessClass
	}{
		{"login is public", "POST", "/api/auth/login", Public},
		{"register is public", "POST", "/api/auth/register", Public},
		{"refresh is public", "POST", "/api/auth/refresh", Public},
		{"login wrong method falls through", "GET", "/api/auth/login", Authenticated},
		{"auth profile requires auth", "GET", "/api/auth/me", Authenticated},
		{"staff management requires admin", "GET", "/api/users/staff", Admin},
		{"staff subpath requires admin", "DELETE", "/api/users/staff/42", Admin},
		{"user listing requires admin", "GET", "/api/users/all", Admin},
		{"user profile requires auth", "GET", "/api/users/me", Authenticated},
		{"product reads are public", "GET", "/api/products/123", Public},
		{"product writes require staff", "POST", "/api/products", Staff},
		{"product delete requires staff", "DELETE", "/api/products/123", Staff},
		{"orders require auth", "GET", "/api/orders", Authenticated},
		{"unknown path fails closed", "GET", "/api/payments", Authenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.method, tt.path)
			if got.Require != tt.want {
				t.Errorf("Classify(%s, %s) = %s, want %s", tt.method, tt.path, got.Require, tt.want)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c, err := NewClassifier(DefaultEntries(), Authenticated)
	if err != nil {
		t.Fatalf("failed to build classifier: %v", err)
	}

	first := c.Classify("GET", "/api/users/staff")
	for i := 0; i < 100; i++ {
		got := c.Classify("GET", "/api/users/staff")
		if got.Require != first.Require || got.Prefix != first.Prefix {
			t.Fatalf("classification not deterministic: got %+v, want %+v", got, first)
		}
	}
}

func TestClassifyPlainPrefixMatch(t *testing.T) {
	// An entry like /api/users/staff also covers /api/users/staff-report;
	// gaps err on the restrictive side.
	c, err := NewClassifier(DefaultEntries(), Authenticated)
	if err != nil {
		t.Fatalf("failed to build classifier: %v", err)
	}

	if got := c.Classify("GET", "/api/users/staff-report"); got.Require != Admin {
		t.Errorf("expected admin for /api/users/staff-report, got %s", got.Require)
	}
}

func TestNewClassifierRejectsPublicFallback(t *testing.T) {
	if _, err := NewClassifier(DefaultEntries(), Public); err == nil {
		t.Error("expected error for public fallback, got nil")
	}
}

func TestNewClassifierRejectsShadowedEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		wantErr bool
	}{
		{
			name: "shorter prefix first shadows longer",
			entries: []Entry{
				{Prefix: "/api/users", Require: Authenticated},
				{Prefix: "/api/users/staff", Require: Admin},
			},
			wantErr: true,
		},
		{
			name: "longer prefix first is fine",
			entries: []Entry{
				{Prefix: "/api/users/staff", Require: Admin},
				{Prefix: "/api/users", Require: Authenticated},
			},
			wantErr: false,
		},
		{
			name: "same prefix, narrower methods first is fine",
			entries: []Entry{
				{Prefix: "/api/products", Methods: []string{"GET"}, Require: Public},
				{Prefix: "/api/products", Require: Staff},
			},
			wantErr: false,
		},
		{
			name: "same prefix, all methods first shadows",
			entries: []Entry{
				{Prefix: "/api/products", Require: Staff},
				{Prefix: "/api/products", Methods: []string{"GET"}, Require: Public},
			},
			wantErr: true,
		},
		{
			name: "bad prefix",
			entries: []Entry{
				{Prefix: "api/users", Require: Authenticated},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClassifier(tt.entries, Authenticated)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClassifier() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseAccessClass(t *testing.T) {
	for _, valid := range []string{"public", "authenticated", "staff", "admin"} {
		if _, err := ParseAccessClass(valid); err != nil {
			t.Errorf("ParseAccessClass(%q) unexpected error: %v", valid, err)
		}
	}
	if _, err := ParseAccessClass("superuser"); err == nil {
		t.Error("expected error for invalid access class")
	}
}

func TestClassifyMethodCaseInsensitive(t *testing.T) {
	c, err := NewClassifier([]Entry{
		{Prefix: "/api/auth/login", Methods: []string{"post"}, Require: Public},
	}, Authenticated)
	if err != nil {
		t.Fatalf("failed to build classifier: %v", err)
	}

	if got := c.Classify("POST", "/api/auth/login"); got.Require != Public {
		t.Errorf("expected public for lowercase-configured method, got %s", got.Require)
	}
}
