// Package auth provides the optional verifiable credential the Session
// Gateway's handshake can upgrade to in place of a bare userId query
// parameter, narrowed to chat-session scope (no refresh tokens, no
// blacklist — those belong to the identity provisioning system this
// package's caller intentionally excludes).
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the chat-session subject a token was issued for.
type Claims struct {
	UserID string `json:"sub"`
	jwt.RegisteredClaims
}

// Verifier checks HS256-signed session tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier for a non-empty secret. Callers with an
// empty secret should not construct one — the gateway treats a nil
// *Verifier as "no credential upgrade configured" and falls back to the
// bare query-parameter handshake.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Issue signs a session token for userID, used by the thin login surface
// fronting this chat core (out of core scope, but tests need a way to mint
// tokens to exercise the verified handshake path).
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// VerifyUserID validates tokenString and returns the bound userID.
func (v *Verifier) VerifyUserID(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid session token")
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("session token missing subject")
	}
	return claims.UserID, nil
}
