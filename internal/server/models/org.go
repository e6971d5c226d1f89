package models

import "time"

// Role is an org membership role.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

var roleRank = map[Role]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r ranks at or above min. Unknown roles rank below
// every known role.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] > 0 && roleRank[r] >= roleRank[min]
}

// Membership ties a member to an org. Revoked memberships are kept for audit
// and carry RevokedAt.
type Membership struct {
	OrgID     string     `json:"org_id"`
	MemberID  string     `json:"member_id"`
	Role      Role       `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the membership has not been revoked.
func (m *Membership) Active() bool {
	return m.RevokedAt == nil
}

// AuditEntry is an append-only record of a privileged action or a denied attempt.
type AuditEntry struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	TargetID  string    `json:"target_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Audit actions.
const (
	ActionOrgBootstrap     = "org.bootstrap"
	ActionMemberAdd        = "member.add"
	ActionMemberRoleChange = "member.role_change"
	ActionMemberRemove     = "member.remove"
	ActionAuditRead        = "audit.read"
	ActionVaultRead        = "vault.read"
	ActionVaultWrite       = "vault.write"
	ActionMembersRead      = "members.read"

	// DeniedSuffix marks a failed authorization attempt, e.g. "member.add.denied".
	DeniedSuffix = ".denied"
)
