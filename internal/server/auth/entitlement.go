package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VerifyEntitlement checks a signed entitlement token and returns its claims.
func VerifyEntitlement(tokenString string, secretKey []byte) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if err := parse(tokenString, claims, secretKey, time.Now); err != nil {
		return nil, err
	}
	return claims, nil
}
