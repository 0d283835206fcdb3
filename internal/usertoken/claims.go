// Package usertoken reads claims from user access tokens issued by the
// backend. The client never holds the signing keys, so nothing here verifies
// a token; the server remains the only authority on whether it is valid.
package usertoken

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned for opaque tokens that do not parse as a JWT.
var ErrNotJWT = errors.New("token is not a jwt")

// Claims are the informational fields the client displays.
type Claims struct {
	Subject   string
	Issuer    string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Inspect decodes token without checking its signature.
func Inspect(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrNotJWT
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Claims{}, errors.Join(ErrNotJWT, err)
	}
	out := Claims{
		Subject: strings.TrimSpace(claims.Subject),
		Issuer:  strings.TrimSpace(claims.Issuer),
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	return out, nil
}

// ExpiresAt returns the token's exp claim, or the zero time when the token
// is opaque or carries none.
func ExpiresAt(token string) time.Time {
	claims, err := Inspect(token)
	if err != nil {
		return time.Time{}
	}
	return claims.ExpiresAt
}

// Expired reports whether the exp claim lies before now, allowing leeway.
// Tokens without exp never expire from the client's point of view.
func Expired(token string, now time.Time, leeway time.Duration) bool {
	exp := ExpiresAt(token)
	if exp.IsZero() {
		return false
	}
	return now.After(exp.Add(leeway))
}
