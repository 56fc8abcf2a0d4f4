// Package auth issues the signed host tokens that gate host-only commands.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kiliankoe/quizdash/internal/game"
)

const issuer = "quizdash"

var ErrInvalidToken = errors.New("invalid host token")

type hostClaims struct {
	Code string `json:"code"`
	jwt.RegisteredClaims
}

// HostTokens signs HS256 tokens bound to one session code. Tokens verify in
// any process holding the same secret.
type HostTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewHostTokens(secret string, ttl time.Duration) (*HostTokens, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("host token secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &HostTokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (h *HostTokens) IssueHostToken(code string) (string, error) {
	now := h.now()
	claims := hostClaims{
		Code: code,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "host",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(h.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
}

func (h *HostTokens) AuthorizeHost(code, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	var claims hostClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return h.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(h.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Code != game.NormalizeCode(code) {
		return fmt.Errorf("%w: token is for another session", ErrInvalidToken)
	}
	return nil
}
