package session

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer   = "applyportal"
	tokenAudience = "applyportal-web"
	tokenLeeway   = 30 * time.Second
)

// cookieSigner signs session ids into HS256 JWTs so a tampered or foreign
// cookie is rejected before Redis is consulted.
type cookieSigner struct {
	secret []byte
	ttl    time.Duration
}

func newCookieSigner(secret string, ttl time.Duration) (*cookieSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session secret is required")
	}
	return &cookieSigner{secret: []byte(secret), ttl: ttl}, nil
}

func (c *cookieSigner) sign(sid string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   sid,
		Issuer:    tokenIssuer,
		Audience:  jwt.ClaimStrings{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func (c *cookieSigner) parse(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("empty session token")
	}
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(tokenLeeway),
	)
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid session token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("session token subject missing")
	}
	return claims.Subject, nil
}
