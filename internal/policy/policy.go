package policy

import (
	"fmt"
	"strings"
)

// AccessClass is the access requirement attached to a route.
type AccessClass string

const (
	Public        AccessClass = "public"
	Authenticated AccessClass = "authenticated"
	Staff         AccessClass = "staff"
	Admin         AccessClass = "admin"
)

// ParseAccessClass converts a configuration string to an AccessClass.
func ParseAccessClass(s string) (AccessClass, error) {
	switch AccessClass(s) {
	case Public, Authenticated, Staff, Admin:
		return AccessClass(s), nil
	}
	return "", fmt.Errorf("invalid access class %q", s)
}

// RoutePolicy associates a path prefix and method set with a required
// access class. Policies are static and immutable for the process lifetime.
type RoutePolicy struct {
	Prefix  string
	Methods map[string]bool // nil = all methods
	Require AccessClass
}

// matches reports whether the policy applies to the given method and path.
// Prefix matching is plain string-prefix so an entry like /api/users/staff
// also covers /api/users/staff-report; the fallback class makes any
// accidental gap err on the restrictive side.
func (p *RoutePolicy) matches(method, path string) bool {
	if p.Methods != nil && !p.Methods[strings.ToUpper(method)] {
		return false
	}
	return strings.HasPrefix(path, p.Prefix)
}

// Classifier decides which access class applies to a request. It is pure
// and total: every (method, path) pair yields exactly one policy. The table
// is compiled once at startup and shared read-only across handlers.
type Classifier struct {
	policies []RoutePolicy
	fallback AccessClass
}

// Entry is one ordered classification rule supplied at construction.
type Entry struct {
	Prefix  string
	Methods []string // empty = all methods
	Require AccessClass
}

// NewClassifier compiles the ordered entry list. First match wins, so an
// earlier entry whose prefix contains a later entry's prefix (with an equal
// or wider method set) makes the later one unreachable; that is rejected as
// a configuration error rather than silently misclassifying.
//
// The fallback class applies when no entry matches. It must never be Public:
// unknown paths under a service prefix fail closed to the most restrictive
// class that the router will still accept.
func NewClassifier(entries []Entry, fallback AccessClass) (*Classifier, error) {
	if fallback == Public {
		return nil, fmt.Errorf("fallback class must not be public")
	}

	policies := make([]RoutePolicy, 0, len(entries))
	for i, e := range entries {
		if e.Prefix == "" || !strings.HasPrefix(e.Prefix, "/") {
			return nil, fmt.Errorf("policy %d: prefix must start with '/'", i)
		}

		var methods map[string]bool
		if len(e.Methods) > 0 {
			methods = make(map[string]bool, len(e.Methods))
			for _, m := range e.Methods {
				methods[strings.ToUpper(m)] = true
			}
		}

		p := RoutePolicy{
			Prefix:  e.Prefix,
			Methods: methods,
			Require: e.Require,
		}

		// Reject entries shadowed by an earlier, broader one.
		for j := range policies {
			if shadows(&policies[j], &p) {
				return nil, fmt.Errorf("policy %d (%s) is unreachable: shadowed by policy %d (%s)",
					i, e.Prefix, j, policies[j].Prefix)
			}
		}

		policies = append(policies, p)
	}

	return &Classifier{policies: policies, fallback: fallback}, nil
}

// shadows reports whether earlier makes later unreachable: earlier's prefix
// is a prefix of later's and earlier's method set covers later's.
func shadows(earlier, later *RoutePolicy) bool {
	if !strings.HasPrefix(later.Prefix, earlier.Prefix) {
		return false
	}
	if earlier.Methods == nil {
		return true
	}
	if later.Methods == nil {
		return false
	}
	for m := range later.Methods {
		if !earlier.Methods[m] {
			return false
		}
	}
	return true
}

// Classify returns the policy for the given method and path. Deterministic:
// repeated calls with the same inputs always yield the same result.
func (c *Classifier) Classify(method, path string) RoutePolicy {
	for i := range c.policies {
		if c.policies[i].matches(method, path) {
			return c.policies[i]
		}
	}
	return RoutePolicy{Prefix: path, Require: c.fallback}
}

// Policies returns a copy of the compiled policy table.
func (c *Classifier) Policies() []RoutePolicy {
	out := make([]RoutePolicy, len(c.policies))
	copy(out, c.policies)
	return out
}

// DefaultEntries returns the built-in policy table for the standard service
// prefixes: registration, login and refresh are public; staff and admin user
// management requires admin; product reads are public while writes need
// staff; everything else under a service prefix requires authentication.
func DefaultEntries() []Entry {
	return []Entry{
		{Prefix: "/api/auth/register", Methods: []string{"POST"}, Require: Public},
		{Prefix: "/api/auth/login", Methods: []string{"POST"}, Require: Public},
		{Prefix: "/api/auth/refresh", Methods: []string{"POST"}, Require: Public},
		{Prefix: "/api/users/staff", Require: Admin},
		{Prefix: "/api/users/all", Require: Admin},
		{Prefix: "/api/auth", Require: Authenticated},
		{Prefix: "/api/users", Require: Authenticated},
		{Prefix: "/api/products", Methods: []string{"GET", "HEAD"}, Require: Public},
		{Prefix: "/api/products", Require: Staff},
		{Prefix: "/api/orders", Require: Authenticated},
	}
}
