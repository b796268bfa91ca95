package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// opsClaims is the claim set carried by operator recovery-endpoint tokens.
type opsClaims struct {
	jwt.RegisteredClaims
}

// OpsAuthenticator issues and verifies the JWTs that guard the
// operator-only reconciliation endpoint. This is deliberately a separate
// trust boundary from the end-user magic links: ops tokens are minted for
// internal tooling, not handed to couriers or counterparties.
type OpsAuthenticator struct {
	secret []byte
	issuer string
}

// NewOpsAuthenticator constructs an authenticator using secret as the HMAC
// signing key and issuer as the JWT "iss" claim.
func NewOpsAuthenticator(secret []byte, issuer string) *OpsAuthenticator {
	return &OpsAuthenticator{secret: secret, issuer: issuer}
}

// Issue mints an ops token for subject (typically an operator or tooling
// identity), valid for ttl.
func (a *OpsAuthenticator) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := opsClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("token: signing ops jwt: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an ops token, returning the subject it was
// issued to.
func (a *OpsAuthenticator) Verify(tokenString string) (string, error) {
	claims := &opsClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("token: unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("token: invalid ops jwt: %w", err)
	}
	return claims.Subject, nil
}
