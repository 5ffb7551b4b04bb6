package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/cartreserve-backend/pkg/config"
)

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "cartreserve"}
	now := time.Now().UTC()

	token, err := MintAccessToken(cfg, now, 30*time.Minute, AccessTokenPayload{OwnerID: "user-42"})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.OwnerID() != "user-42" {
		t.Fatalf("expected owner user-42, got %q", claims.OwnerID())
	}
	if claims.Role != RoleCustomer {
		t.Fatalf("expected default role %q, got %q", RoleCustomer, claims.Role)
	}
	if claims.Issuer != cfg.Issuer {
		t.Fatalf("expected issuer %s, got %s", cfg.Issuer, claims.Issuer)
	}
	diff := claims.ExpiresAt.Sub(now.Add(30 * time.Minute))
	if diff < 0 {
		diff = -diff
	}
	if diff >= time.Second {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt)
	}
}

func TestParseAccessTokenInvalidSignature(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "cartreserve"}
	token, err := MintAccessToken(cfg, time.Now(), time.Minute, AccessTokenPayload{OwnerID: "u", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	other := cfg
	other.Secret = "different"
	if _, err := ParseAccessToken(other, token); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestParseAccessTokenRejectsExpiredAndForeignIssuer(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "cartreserve"}
	expired, err := MintAccessToken(cfg, time.Now().Add(-2*time.Hour), time.Minute, AccessTokenPayload{OwnerID: "u"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseAccessToken(cfg, expired); err == nil {
		t.Fatal("expected expiry error")
	}

	foreign := config.JWTConfig{Secret: "secret", Issuer: "someone-else"}
	token, err := MintAccessToken(foreign, time.Now(), time.Minute, AccessTokenPayload{OwnerID: "u"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseAccessToken(cfg, token); err == nil || !strings.Contains(err.Error(), "issuer") {
		t.Fatalf("expected issuer error, got %v", err)
	}
}

func TestParseAccessTokenRejectsAlgNone(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "cartreserve"}
	claims := AccessTokenClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		Subject:   "u",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := ParseAccessToken(cfg, unsigned); err == nil {
		t.Fatal("expected alg none to be rejected")
	}
}

func TestMintAccessTokenValidates(t *testing.T) {
	if _, err := MintAccessToken(config.JWTConfig{Issuer: "x"}, time.Now(), time.Minute, AccessTokenPayload{OwnerID: "u"}); err == nil {
		t.Fatal("expected secret error")
	}
	if _, err := MintAccessToken(config.JWTConfig{Secret: "s", Issuer: "x"}, time.Now(), time.Minute, AccessTokenPayload{}); err == nil {
		t.Fatal("expected owner error")
	}
}

func TestParseAccessTokenHonoursLeeway(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "cartreserve", Leeway: time.Minute}
	token, err := MintAccessToken(cfg, time.Now().Add(-90*time.Second), time.Minute, AccessTokenPayload{OwnerID: "u"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseAccessToken(cfg, token); err != nil {
		t.Fatalf("token expired 30s ago should pass with 1m leeway: %v", err)
	}
}

func TestUnknownRolesAreRejected(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "cartreserve"}
	if _, err := MintAccessToken(cfg, time.Now(), time.Minute, AccessTokenPayload{OwnerID: "u", Role: "root"}); err == nil {
		t.Fatal("expected mint to reject unknown role")
	}

	claims := AccessTokenClaims{Role: "root", RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		Subject:   "u",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAccessToken(cfg, forged); err == nil {
		t.Fatal("expected parse to reject unknown role")
	}
}
