package jwt

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const issuer = "axon"

// Role gates what a token holder may do.
type Role string

const (
	// RoleViewer may read batches and cluster state.
	RoleViewer Role = "viewer"
	// RoleOperator may also submit and roll back batches.
	RoleOperator Role = "operator"
)

// ErrEmptySecret is returned when signing or parsing without a secret.
var ErrEmptySecret = errors.New("jwt secret is empty")

// ParseRole maps a flag or claim value to a Role.
func ParseRole(value string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleViewer:
		return RoleViewer, nil
	case RoleOperator:
		return RoleOperator, nil
	default:
		return "", errors.New("unknown role " + value)
	}
}

// Claims defines JWT payload.
type Claims struct {
	Role Role `json:"role"`
	jwtlib.RegisteredClaims
}

// Allows reports whether the claims carry at least the required role.
func (c *Claims) Allows(required Role) bool {
	switch required {
	case RoleViewer:
		return c.Role == RoleViewer || c.Role == RoleOperator
	case RoleOperator:
		return c.Role == RoleOperator
	default:
		return false
	}
}

// GenerateToken issues a signed JWT for subject with provided secret and ttl.
func GenerateToken(subject string, role Role, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates and extracts claims from token.
func Parse(token string, secret string) (*Claims, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}), jwtlib.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	if _, err := ParseRole(string(claims.Role)); err != nil {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
