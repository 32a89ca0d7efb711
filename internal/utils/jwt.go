package utils // package utils provides helper functions for token creation and hashing

import (
	"time" // time utilities for generating expirations

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// AdminToken represents a signed JWT for the admin API along with its
// expiry.  Admin tokens are short-lived and carried in the Authorization
// header; portal clients never hold one, their only credential is the
// opaque session token.
type AdminToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// NewAdminToken builds and signs an HS256 JWT for the admin user.  The
// JWT includes standard claims: subject (sub), role, expiration (exp)
// and issued at (iat).
func NewAdminToken(secret, username string, ttlMin int) (AdminToken, error) {
	exp := time.Now().UTC().Add(time.Duration(ttlMin) * time.Minute)
	claims := jwt.MapClaims{
		"sub":  username,
		"role": "ADMIN",
		"exp":  exp.Unix(),
		"iat":  time.Now().UTC().Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return AdminToken{}, err
	}
	return AdminToken{Token: signed, Exp: exp}, nil
}
