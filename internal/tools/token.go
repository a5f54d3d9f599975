package tools

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Per-call bearer tokens for the HTTP tool transport. The native-SIP
// provider echoes the token on every tool webhook it sends back, so a
// request can only dispatch tools inside the call it was minted for.

const tokenIssuer = "voiceagent-platform"

type TokenSigner struct {
	secret []byte
	ttl    time.Duration
}

var (
	ErrTokenInvalid  = errors.New("tools: invalid tool token")
	ErrTokenCallMism = errors.New("tools: token issued for a different call")
)

func NewTokenSigner(secret string, ttl time.Duration) (*TokenSigner, error) {
	if secret == "" {
		return nil, errors.New("TOOL_TOKEN_SECRET is required")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &TokenSigner{secret: []byte(secret), ttl: ttl}, nil
}

// Mint issues a token bound to one call ID.
func (s *TokenSigner) Mint(callID string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   callID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks the signature, expiry and call binding.
func (s *TokenSigner) Verify(tokenString, callID string, now time.Time) error {
	var claims jwt.RegisteredClaims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	token, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return ErrTokenInvalid
	}
	if claims.Subject != callID {
		return ErrTokenCallMism
	}
	return nil
}
