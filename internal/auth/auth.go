// Package auth verifies signed tokens presented on the WebSocket handshake
// and the HTTP bearer-auth surface. It never issues tokens; credential
// issuance is an external collaborator per the gateway's scope.
package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors returned by Verify. Callers map these to a close code
// (WebSocket) or a 401 (HTTP) at the boundary.
var (
	ErrMissingToken = errors.New("auth: token missing")
	ErrInvalidToken = errors.New("auth: token invalid or expired")
	ErrNoSubject    = errors.New("auth: token has no subject claim")
)

// Verifier validates HMAC-signed tokens and extracts the subject (user ID)
// claim, mirroring original_source's JwtUtil: HMAC key from configuration,
// subject taken from the standard "sub" claim.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier over the given HMAC signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates raw, returning the subject (user ID) claim.
// Empty input is treated the same as a missing token, matching the
// handshake's "?token=" absent case in original_source's
// afterConnectionEstablished.
func (v *Verifier) Verify(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingToken
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrNoSubject
	}
	return sub, nil
}

// BearerToken extracts the token from a standard "Authorization: Bearer
// <token>" header value. Returns "" if the header is absent or malformed.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}
