package devicekit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller: a user ID plus the claim set of the
// credential. The claim "admin" grants access to every device.
type Identity struct {
	UserID string   `json:"user_id"`
	Claims []string `json:"roles"`
}

// HasClaim reports whether the identity carries claim.
func (id Identity) HasClaim(claim string) bool {
	return slices.Contains(id.Claims, claim)
}

// IsAdmin reports whether the identity carries the admin claim.
// The match is exact: "superadmin" or "Admin" are not admin.
func (id Identity) IsAdmin() bool {
	return id.HasClaim(ClaimAdmin)
}

// tokenClaims is the JWT payload: sub is the user ID, roles the claim set.
type tokenClaims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver validates HMAC-signed JWTs and turns them into identities.
type JWTResolver struct {
	secret []byte
	method jwt.SigningMethod
}

// NewJWTResolver creates a resolver for tokens signed with secret using
// algorithm ("HS256", "HS384" or "HS512"; empty means HS256).
func NewJWTResolver(secret, algorithm string) (*JWTResolver, error) {
	if secret == "" {
		return nil, NewError(ErrInvalidInput, "jwt secret is required")
	}
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	method := jwt.GetSigningMethod(algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, NewError(ErrInvalidInput, fmt.Sprintf("unsupported jwt algorithm %q", algorithm))
	}
	return &JWTResolver{secret: []byte(secret), method: method}, nil
}

// Resolve validates bearer and returns the identity it carries.
func (r *JWTResolver) Resolve(_ context.Context, bearer string) (Identity, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return Identity{}, NewError(ErrUnauthenticated, "missing token")
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(bearer, claims, func(token *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{r.method.Alg()}))
	if err != nil {
		return Identity{}, NewError(ErrUnauthenticated, "invalid token").WithCause(err)
	}
	if !token.Valid {
		return Identity{}, NewError(ErrUnauthenticated, "invalid token")
	}
	if claims.Subject == "" {
		return Identity{}, NewError(ErrUnauthenticated, "token has no subject")
	}

	return Identity{UserID: claims.Subject, Claims: claims.Roles}, nil
}

// IssueToken signs a token for id that expires after ttl. A zero ttl
// produces a token without expiry.
func (r *JWTResolver) IssueToken(id Identity, ttl time.Duration) (string, error) {
	if id.UserID == "" {
		return "", NewError(ErrInvalidInput, "user id is required")
	}
	now := time.Now()
	claims := &tokenClaims{
		Roles: id.Claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.UserID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(r.method, claims).SignedString(r.secret)
}

// StaticResolver resolves fixed bearer strings to identities. Useful in tests.
type StaticResolver map[string]Identity

// Resolve looks bearer up in the map.
func (r StaticResolver) Resolve(_ context.Context, bearer string) (Identity, error) {
	id, ok := r[bearer]
	if !ok || id.UserID == "" {
		return Identity{}, NewError(ErrUnauthenticated, "unknown token")
	}
	return id, nil
}

// bearerToken extracts the credential from an Authorization header value.
func bearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("authorization header must be 'Bearer <token>'")
	}
	return strings.TrimSpace(token), nil
}
