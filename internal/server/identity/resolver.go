// Package identity turns request credentials into an AuthContext.
package identity

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/server/auth"
	"github.com/dmitrijs2005/armadillo/internal/server/models"
)

// Strategy tries to resolve an owner from r. ok is false when the strategy
// does not apply; the resolver then moves on to the next one.
type Strategy interface {
	Name() string
	Resolve(r *http.Request) (ac models.AuthContext, ok bool)
}

// Resolver applies strategies in order, first match wins.
type Resolver struct {
	strategies []Strategy
}

func NewResolver(strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// NewDefaultResolver is the session-then-hint chain used by the server.
func NewDefaultResolver(sessionSecret []byte) *Resolver {
	return NewResolver(NewSessionStrategy(sessionSecret), HintStrategy{})
}

func (res *Resolver) Resolve(r *http.Request) (models.AuthContext, error) {
	for _, s := range res.strategies {
		if ac, ok := s.Resolve(r); ok {
			return ac, nil
		}
	}
	return models.AuthContext{}, common.ErrorUnauthorized
}

// SessionStrategy accepts a bearer session token.
type SessionStrategy struct {
	secret []byte
}

func NewSessionStrategy(secret []byte) *SessionStrategy {
	return &SessionStrategy{secret: secret}
}

func (s *SessionStrategy) Name() string { return "session" }

func (s *SessionStrategy) Resolve(r *http.Request) (models.AuthContext, bool) {
	token, err := bearerToken(r.Header.Get(common.AuthorizationHeaderName))
	if err != nil {
		return models.AuthContext{}, false
	}

	claims, err := auth.ParseSession(token, s.secret)
	if err != nil {
		return models.AuthContext{}, false
	}

	org := claims.Org
	if h := strings.TrimSpace(r.Header.Get(common.OrgHeaderName)); h != "" {
		org = h
	}

	return models.AuthContext{
		OwnerID: common.OwnerPrefixUser + claims.Subject,
		OrgID:   org,
		Subject: claims.Subject,
		Source:  models.SourceAuth,
	}, true
}

// HintStrategy maps the device owner hint header to an anonymous owner.
type HintStrategy struct{}

func (HintStrategy) Name() string { return "owner-hint" }

func (HintStrategy) Resolve(r *http.Request) (models.AuthContext, bool) {
	hint := NormalizeOwnerHint(r.Header.Get(common.OwnerHintHeaderName))
	if hint == "" {
		return models.AuthContext{}, false
	}
	return models.AuthContext{
		OwnerID: common.OwnerPrefixAnon + hint,
		OrgID:   strings.TrimSpace(r.Header.Get(common.OrgHeaderName)),
		Subject: hint,
		Source:  models.SourceAnonymous,
	}, true
}

var errNoBearer = errors.New("no bearer token")

func bearerToken(h string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", errNoBearer
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errNoBearer
	}
	return token, nil
}
