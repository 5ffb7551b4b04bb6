package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/cartreserve-backend/pkg/config"
)

var signingMethod = jwt.SigningMethodHS256

func hmacKey(cfg config.JWTConfig) ([]byte, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return []byte(cfg.Secret), nil
}

// MintAccessToken signs a token for payload. Production tokens come from the identity
// service; tooling and tests mint their own.
func MintAccessToken(cfg config.JWTConfig, now time.Time, ttl time.Duration, payload AccessTokenPayload) (string, error) {
	key, err := hmacKey(cfg)
	if err != nil {
		return "", err
	}
	owner := strings.TrimSpace(payload.OwnerID)
	switch {
	case cfg.Issuer == "":
		return "", errors.New("jwt issuer is required")
	case ttl <= 0:
		return "", errors.New("token ttl must be positive")
	case owner == "":
		return "", errors.New("owner id is required")
	}

	role := payload.Role
	if role == "" {
		role = RoleCustomer
	}
	if !KnownRole(role) {
		return "", fmt.Errorf("unknown role %q", role)
	}
	id := strings.TrimSpace(payload.JTI)
	if id == "" {
		id = uuid.NewString()
	}

	token := jwt.NewWithClaims(signingMethod, AccessTokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    cfg.Issuer,
			Subject:   owner,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(key)
}

// ParseAccessToken verifies an HS256 token from cfg.Issuer and returns its claims. Expiry
// is mandatory and checked with cfg.Leeway of clock skew.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	key, err := hmacKey(cfg)
	if err != nil {
		return nil, err
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	)
	claims := &AccessTokenClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return key, nil }); err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("access token: empty subject")
	}
	if claims.Role != "" && !KnownRole(claims.Role) {
		return nil, fmt.Errorf("access token: unknown role %q", claims.Role)
	}
	return claims, nil
}
