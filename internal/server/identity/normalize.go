package identity

import (
	"strings"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/server/models"
)

// MaxOwnerHintLen bounds a normalized hint.
const MaxOwnerHintLen = 64

// NormalizeOwnerHint lowercases raw, drops every rune outside [a-z0-9_-]
// and truncates the result to MaxOwnerHintLen. It is idempotent.
func NormalizeOwnerHint(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if b.Len() == MaxOwnerHintLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LegacyOwnerPrefixes returns owner-id prefixes under which an authenticated
// caller may have written snapshots before signing in. Anonymous callers have
// none.
func LegacyOwnerPrefixes(ac models.AuthContext) []string {
	if !ac.Authenticated() {
		return nil
	}
	id := NormalizeOwnerHint(strings.TrimPrefix(ac.OwnerID, common.OwnerPrefixUser))
	if id == "" {
		return nil
	}
	return []string{common.OwnerPrefixAnon + id}
}
