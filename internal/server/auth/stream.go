package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/timex"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const streamPurpose = "stream"

// StreamClaims binds a change-feed subscription to one owner and vault.
type StreamClaims struct {
	jwt.RegisteredClaims
	OwnerID string `json:"owner"`
	VaultID string `json:"vault"`
	Purpose string `json:"purpose"`
}

// StreamToken is an issued stream credential.
type StreamToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// StreamTokens issues and verifies stream tokens. Tokens are bearer
// credentials in a query string, so their TTL is kept short.
type StreamTokens struct {
	secret []byte
	ttl    time.Duration
	clock  timex.Clock
}

func NewStreamTokens(secret []byte, ttl time.Duration, clock timex.Clock) *StreamTokens {
	if clock == nil {
		clock = timex.Real()
	}
	return &StreamTokens{secret: secret, ttl: ttl, clock: clock}
}

// Issue returns a token for (ownerID, vaultID).
func (s *StreamTokens) Issue(ownerID, vaultID string) (StreamToken, error) {
	if ownerID == "" || vaultID == "" {
		return StreamToken{}, common.ErrorBadRequest
	}

	now := s.clock.Now()
	exp := now.Add(s.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, StreamClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		OwnerID: ownerID,
		VaultID: vaultID,
		Purpose: streamPurpose,
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return StreamToken{}, err
	}
	return StreamToken{Token: signed, ExpiresAt: exp}, nil
}

// Verify checks the token and that it was issued for vaultID.
func (s *StreamTokens) Verify(tokenString, vaultID string) (*StreamClaims, error) {
	claims := &StreamClaims{}
	if err := parse(tokenString, claims, s.secret, s.clock.Now); err != nil {
		return nil, err
	}
	if claims.Purpose != streamPurpose || claims.OwnerID == "" || claims.ExpiresAt == nil {
		return nil, common.ErrInvalidToken
	}
	if claims.VaultID != vaultID {
		return nil, errors.Join(common.ErrInvalidToken, errors.New("vault mismatch"))
	}
	return claims, nil
}
