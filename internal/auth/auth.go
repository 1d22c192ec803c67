package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("insufficient permissions")
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID uuid.UUID
	Role   Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens. With an empty secret every
// token is rejected.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Parse(tokenStr string) (Principal, error) {
	if len(a.secret) == 0 {
		return Principal{}, fmt.Errorf("%w: token verification disabled", ErrUnauthenticated)
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: subject is not a user id", ErrUnauthenticated)
	}
	role := claims.Role
	if role != RoleAdmin {
		role = RoleCustomer
	}
	return Principal{UserID: userID, Role: role}, nil
}

// IssueToken signs a token for p. Used by tooling and tests.
func (a *Authenticator) IssueToken(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Middleware attaches the principal of a valid bearer token to the request
// context. Requests without an Authorization header pass through anonymous;
// requests with a bad token are rejected.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			unauthorized(w, "invalid authorization header")
			return
		}
		p, err := a.Parse(parts[1])
		if err != nil {
			unauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, "{\"error\":%q}\n", msg)
}

// Require returns the request principal, or ErrUnauthenticated when there is
// none.
func Require(ctx context.Context) (Principal, error) {
	p, ok := FromContext(ctx)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	return p, nil
}

func RequireAdmin(ctx context.Context) (Principal, error) {
	p, err := Require(ctx)
	if err != nil {
		return Principal{}, err
	}
	if !p.IsAdmin() {
		return Principal{}, ErrForbidden
	}
	return p, nil
}

// CanAccess reports whether the request principal may see a resource owned
// by owner. Unowned resources are visible to anyone holding their id; owned
// ones only to the owner and to admins.
func CanAccess(ctx context.Context, owner *uuid.UUID) bool {
	if owner == nil {
		return true
	}
	p, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return p.IsAdmin() || p.UserID == *owner
}
