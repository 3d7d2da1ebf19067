package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/sitepatrol/backend/internal/errors"
)

// RoleSupervisor may approve and delete submissions and manage location
// references. Every other role only submits and reads.
const RoleSupervisor = "supervisor"

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller extracted from the bearer token.
type Identity struct {
	Actor string
	Role  string
}

// IsSupervisor reports whether the caller holds the supervisor role.
func (id Identity) IsSupervisor() bool {
	return id.Role == RoleSupervisor
}

// Claims is the expected JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Auth validates HMAC-signed bearer tokens.
type Auth struct {
	secret   []byte
	issuer   string
	audience string
}

// NewAuth creates an Auth validator.
func NewAuth(secret []byte, issuer, audience string) *Auth {
	return &Auth{secret: secret, issuer: issuer, audience: audience}
}

// Middleware rejects requests without a valid bearer token and stores the
// caller identity in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeError(w, apperrors.New(apperrors.ErrUnauthenticated, "bearer token required"))
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(header, prefix))

		identity, err := a.verify(tokenString)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) verify(tokenString string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, apperrors.New(apperrors.ErrUnauthenticated, "unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !token.Valid {
		return Identity{}, apperrors.New(apperrors.ErrUnauthenticated, "invalid access token")
	}

	if a.issuer != "" && claims.Issuer != a.issuer {
		return Identity{}, apperrors.New(apperrors.ErrUnauthenticated, "invalid token issuer")
	}
	if a.audience != "" && !containsAudience(claims.Audience, a.audience) {
		return Identity{}, apperrors.New(apperrors.ErrUnauthenticated, "invalid token audience")
	}
	if claims.Subject == "" {
		return Identity{}, apperrors.New(apperrors.ErrUnauthenticated, "token has no subject")
	}

	return Identity{Actor: claims.Subject, Role: claims.Role}, nil
}

// IdentityFrom returns the authenticated identity stored by Middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

func containsAudience(audience jwt.ClaimStrings, want string) bool {
	for _, a := range audience {
		if a == want {
			return true
		}
	}
	return false
}
