package devicekit

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestIdentityIsAdmin(t *testing.T) {
	assert.True(t, Identity{UserID: "u", Claims: []string{"user", "admin"}}.IsAdmin())
	assert.False(t, Identity{UserID: "u", Claims: []string{"superadmin"}}.IsAdmin())
	assert.False(t, Identity{UserID: "u", Claims: []string{"Admin"}}.IsAdmin())
	assert.False(t, Identity{UserID: "u"}.IsAdmin())
}

// TestNewJWTResolver tests algorithm selection
func TestNewJWTResolver(t *testing.T) {
	t.Run("Defaults to HS256", func(t *testing.T) {
		r, err := NewJWTResolver(testSecret, "")
		require.NoError(t, err)
		assert.Equal(t, "HS256", r.method.Alg())
	})

	t.Run("Rejects empty secret", func(t *testing.T) {
		_, err := NewJWTResolver("", "HS256")
		assert.True(t, IsInvalidInput(err))
	})

	t.Run("Rejects asymmetric algorithms", func(t *testing.T) {
		_, err := NewJWTResolver(testSecret, "RS256")
		assert.True(t, IsInvalidInput(err))
	})

	t.Run("Rejects unknown algorithms", func(t *testing.T) {
		_, err := NewJWTResolver(testSecret, "none")
		assert.True(t, IsInvalidInput(err))
	})
}

// TestJWTResolverRoundTrip tests that issued tokens resolve to the same identity
func TestJWTResolverRoundTrip(t *testing.T) {
	r, err := NewJWTResolver(testSecret, "HS384")
	require.NoError(t, err)

	want := Identity{UserID: "user-1", Claims: []string{ClaimAdmin}}
	token, err := r.IssueToken(want, time.Hour)
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// TestJWTResolverRejects tests every authentication failure path
func TestJWTResolverRejects(t *testing.T) {
	r, err := NewJWTResolver(testSecret, "HS256")
	require.NoError(t, err)
	ctx := context.Background()

	sign := func(method jwt.SigningMethod, secret string, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name  string
		token string
	}{
		{"Empty", ""},
		{"Garbage", "not-a-jwt"},
		{"Wrong secret", sign(jwt.SigningMethodHS256, "other", jwt.RegisteredClaims{Subject: "user-1"})},
		{"Wrong algorithm", sign(jwt.SigningMethodHS512, testSecret, jwt.RegisteredClaims{Subject: "user-1"})},
		{"Expired", sign(jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		})},
		{"No subject", sign(jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(ctx, tt.token)
			require.Error(t, err)
			assert.True(t, IsUnauthenticated(err))
		})
	}
}

func TestIssueTokenRequiresUser(t *testing.T) {
	r, err := NewJWTResolver(testSecret, "")
	require.NoError(t, err)
	_, err = r.IssueToken(Identity{}, time.Hour)
	assert.True(t, IsInvalidInput(err))
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{"tok": {UserID: "user-1"}}

	id, err := r.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)

	_, err = r.Resolve(context.Background(), "other")
	assert.True(t, IsUnauthenticated(err))
}

func TestBearerToken(t *testing.T) {
	token, err := bearerToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", token)

	token, err = bearerToken("bearer   abc ")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	for _, header := range []string{"", "abc", "Basic abc", "Bearer "} {
		_, err := bearerToken(header)
		assert.Error(t, err, header)
	}
}
