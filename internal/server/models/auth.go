// Package models defines the gateway's domain records. Payload fields are
// opaque ciphertext produced by clients; the gateway never interprets them.
package models

// AuthSource tells how an owner was resolved.
type AuthSource string

const (
	SourceAuth      AuthSource = "auth"
	SourceAnonymous AuthSource = "anonymous"
)

// AuthContext is derived per request and never persisted as-is.
type AuthContext struct {
	OwnerID string     `json:"ownerId"`
	OrgID   string     `json:"orgId,omitempty"`
	Subject string     `json:"subject"`
	Source  AuthSource `json:"source"`
	Role    Role       `json:"role,omitempty"`
}

// Authenticated reports whether the owner came from a verified session.
func (a AuthContext) Authenticated() bool {
	return a.Source == SourceAuth
}
