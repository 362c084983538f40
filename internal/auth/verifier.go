package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates bearer tokens against the shared HMAC secret and
// produces a Principal from the embedded claims. It performs no network or
// database calls; the result is a pure function of (token, secret, clock).
//
// Claim contents are trusted as-is. The gateway does not re-check that the
// subject still exists or is active in the auth service's store; explicit
// revocation is handled separately by a RevocationStore when configured.
type Verifier struct {
	secret  []byte
	keyFunc jwt.Keyfunc
}

// NewVerifier creates a verifier for HS256-signed access tokens.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret must not be empty")
	}

	v := &Verifier{secret: []byte(secret)}
	v.keyFunc = func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}
	return v, nil
}

// Verify parses and validates the token string, returning the Principal
// built from its claims. Signature mismatch, malformed input, and expiry all
// fail the same way; callers map the failure to a generic denial.
func (v *Verifier) Verify(tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, v.keyFunc,
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	subject, _ := claims.GetSubject()
	if subject == "" {
		if id, ok := claims["userId"].(string); ok {
			subject = id
		}
	}
	if subject == "" {
		return nil, fmt.Errorf("token missing subject claim")
	}

	p := &Principal{
		SubjectID: subject,
		Role:      RoleUser,
		Class:     ClassCustomer,
	}

	if email, ok := claims["email"].(string); ok {
		p.Email = email
	}
	if role, ok := claims["role"].(string); ok && role != "" {
		p.Role = Role(role)
	}
	if class, ok := claims["type"].(string); ok && class != "" {
		p.Class = Class(class)
	}
	if jti, ok := claims["jti"].(string); ok {
		p.TokenID = jti
	}

	return p, nil
}

// SignToken creates a signed access token for the given principal. The
// gateway itself never issues tokens in production; this mirrors what the
// auth service signs and exists for tests and local tooling.
func (v *Verifier) SignToken(p *Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   p.SubjectID,
		"email": p.Email,
		"role":  string(p.Role),
		"type":  string(p.Class),
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	if p.TokenID != "" {
		claims["jti"] = p.TokenID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
