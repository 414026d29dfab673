package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// AdminPrincipal identifies the holder of an admin bearer token.
type AdminPrincipal struct {
	Subject   string
	ExpiresAt time.Time
}

// AdminTokens issues and verifies the HS256 bearer tokens that guard the
// audit query API. They are unrelated to client API keys.
type AdminTokens struct {
	secret []byte
	issuer string
}

func NewAdminTokens(secret, issuer string) *AdminTokens {
	return &AdminTokens{secret: []byte(secret), issuer: issuer}
}

// Issue creates a new signed token for subject that expires after ttl.
func (a *AdminTokens) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Validate verifies a token's signature, issuer, and expiry.
func (a *AdminTokens) Validate(tokenStr string) (*AdminPrincipal, error) {
	claims := &jwt.RegisteredClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	p := &AdminPrincipal{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}
