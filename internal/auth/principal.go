package auth

import "context"

// Role is the fine-grained role carried in a token.
type Role string

const (
	RoleUser    Role = "user"
	RoleStaff   Role = "staff"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
	RoleOwner   Role = "owner"
)

// Class is the coarse principal category, independent of role. Customer
// accounts can never satisfy staff or admin route policies no matter what
// role value their token carries.
type Class string

const (
	ClassCustomer Class = "customer"
	ClassStaff    Class = "staff"
)

// Principal is the authenticated identity derived from a validated token.
// It is created per request and never persisted by the gateway.
type Principal struct {
	SubjectID string
	Email     string
	Role      Role
	Class     Class
	TokenID   string // jti claim when present; used for revocation checks
}

// IsStaff reports whether the principal belongs to the staff class.
func (p *Principal) IsStaff() bool {
	return p.Class == ClassStaff
}

// IsAdmin reports whether the principal is an admin staff member.
func (p *Principal) IsAdmin() bool {
	return p.Class == ClassStaff && p.Role == RoleAdmin
}

// principalKey is the context key for the request principal.
type principalKey struct{}

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the principal from the context, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}
