// Package auth turns a bearer JWT into the caller Identity that the order
// and payment services authorize against.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID   string
	Email    string
	Role     Role
	IsActive bool
}

// IsPrivileged reports whether the caller may act on any user's orders.
func (i Identity) IsPrivileged() bool {
	return i.Role == RoleAdmin || i.Role == RoleSuperAdmin
}

// Owns reports whether the caller may act on a resource owned by userID.
func (i Identity) Owns(userID string) bool {
	return i.IsPrivileged() || i.UserID == userID
}

type Claims struct {
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"is_active"`
	jwt.RegisteredClaims
}

var ErrMissingSubject = errors.New("token has no subject")

type Manager struct {
	secret []byte
}

func NewManager(secret string) (*Manager, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but was empty")
	}
	return &Manager{secret: []byte(secret)}, nil
}

// IssueToken signs an HS256 token for id. Tokens are normally issued by the
// user service; this exists for tooling and tests.
func (m *Manager) IssueToken(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email:    id.Email,
		Role:     id.Role,
		IsActive: id.IsActive,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (m *Manager) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	role := claims.Role
	if role == "" {
		role = RoleCustomer
	}

	return &Identity{
		UserID:   claims.Subject,
		Email:    claims.Email,
		Role:     role,
		IsActive: claims.IsActive,
	}, nil
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
