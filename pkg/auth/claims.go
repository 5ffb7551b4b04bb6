package auth

import "github.com/golang-jwt/jwt/v5"

// Token roles. Shoppers are customers; stock receipts need admin.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// KnownRole reports whether role may appear on an access token.
func KnownRole(role string) bool {
	return role == RoleCustomer || role == RoleAdmin
}

// AccessTokenPayload is the input to MintAccessToken.
type AccessTokenPayload struct {
	OwnerID string
	Role    string
	JTI     string
}

// AccessTokenClaims carries the owner id in sub and an optional role claim.
type AccessTokenClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c AccessTokenClaims) OwnerID() string { return c.Subject }
