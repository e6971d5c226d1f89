// Package auth signs and verifies the HS256 tokens the gateway deals with:
// session tokens presented as bearer credentials, short-lived stream tokens
// for change feeds, and optional signed entitlement tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the session claim set. Org is optional and only used in
// enterprise mode.
type Claims struct {
	jwt.RegisteredClaims
	Org string `json:"org,omitempty"`
}

func GenerateToken(subject, org string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		Org: org,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseSession verifies a session token and returns its claims.
func ParseSession(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}
	if err := parse(tokenString, claims, secretKey, time.Now); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

func parse(tokenString string, claims jwt.Claims, secretKey []byte, now func() time.Time) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return mapError(err)
	}

	if !token.Valid {
		return common.ErrInvalidToken
	}

	return nil
}

func mapError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return common.ErrTokenExpired
	}
	return fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
}
