package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/logging"
	"github.com/dmitrijs2005/armadillo/internal/server/models"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/audit"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/armadillo/internal/timex"
)

// Audit page bounds.
const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 200
)

// OrgService manages org memberships and the audit trail. Denied attempts
// are audited before common.ErrorForbidden is returned.
type OrgService struct {
	repomanager repomanager.RepositoryManager
	clock       timex.Clock
	log         logging.Logger
	newID       func() string
}

func NewOrgService(m repomanager.RepositoryManager, clock timex.Clock, log logging.Logger) *OrgService {
	if clock == nil {
		clock = timex.Real()
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &OrgService{
		repomanager: m,
		clock:       clock,
		log:         log.With("module", "orgs"),
		newID:       func() string { return uuid.NewString() },
	}
}

// Authorize checks that actorID holds at least min in orgID and returns the
// actor's role. A failed check is recorded as action+".denied" against target.
func (s *OrgService) Authorize(ctx context.Context, orgID, actorID string, min models.Role,
	action, target string) (models.Role, error) {
	if orgID == "" {
		return "", fmt.Errorf("%w: org is required", common.ErrorBadRequest)
	}
	if actorID == "" {
		return "", common.ErrorUnauthorized
	}

	var role models.Role
	denied := false
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		var err error
		role, err = activeRole(ctx, repos, orgID, actorID)
		if err != nil {
			return err
		}
		if role.AtLeast(min) {
			return nil
		}
		denied = true
		return s.appendAudit(ctx, repos, orgID, actorID, action+models.DeniedSuffix, target)
	})
	if err != nil {
		return "", err
	}
	if denied {
		s.log.Info(ctx, "authorization denied", "org", orgID, "actor", actorID, "action", action, "role", role)
		return role, common.ErrorForbidden
	}
	return role, nil
}

// Role returns memberID's active role in orgID, or "" when it has none.
func (s *OrgService) Role(ctx context.Context, orgID, memberID string) (models.Role, error) {
	return activeRole(ctx, s.repomanager.Repos(), orgID, memberID)
}

// AuthorizeVault gates vault access in enterprise mode: reads need viewer,
// writes need editor.
func (s *OrgService) AuthorizeVault(ctx context.Context, ac models.AuthContext, vaultID string, write bool) (models.Role, error) {
	if ac.OrgID == "" {
		return "", fmt.Errorf("%w: org context is required", common.ErrorForbidden)
	}
	if write {
		return s.Authorize(ctx, ac.OrgID, ac.OwnerID, models.RoleEditor, models.ActionVaultWrite, vaultID)
	}
	return s.Authorize(ctx, ac.OrgID, ac.OwnerID, models.RoleViewer, models.ActionVaultRead, vaultID)
}

// AddMember grants role to memberID. The first authenticated caller on an
// org without active members becomes its owner.
func (s *OrgService) AddMember(ctx context.Context, ac models.AuthContext, orgID, memberID string, role models.Role) (*models.Membership, error) {
	switch {
	case ac.OwnerID == "":
		return nil, common.ErrorUnauthorized
	case orgID == "" || memberID == "":
		return nil, fmt.Errorf("%w: orgId and memberId are required", common.ErrorBadRequest)
	case !role.Valid():
		return nil, fmt.Errorf("%w: unknown role %q", common.ErrorBadRequest, role)
	}
	memberID = canonicalMemberID(memberID)

	var (
		result *models.Membership
		denied bool
	)
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		now := s.clock.Now()

		n, err := repos.Memberships.CountActive(ctx, orgID)
		if err != nil {
			return fmt.Errorf("error counting members: %w", err)
		}
		if n == 0 {
			if !ac.Authenticated() {
				denied = true
				return s.appendAudit(ctx, repos, orgID, ac.OwnerID, models.ActionOrgBootstrap+models.DeniedSuffix, orgID)
			}
			if err := repos.Memberships.Upsert(ctx, &models.Membership{
				OrgID: orgID, MemberID: ac.OwnerID, Role: models.RoleOwner, CreatedAt: now,
			}); err != nil {
				return fmt.Errorf("error bootstrapping org: %w", err)
			}
			if err := s.appendAudit(ctx, repos, orgID, ac.OwnerID, models.ActionOrgBootstrap, ac.OwnerID); err != nil {
				return err
			}
			if memberID == ac.OwnerID {
				result, err = repos.Memberships.Get(ctx, orgID, memberID)
				return err
			}
		}

		actorRole, err := activeRole(ctx, repos, orgID, ac.OwnerID)
		if err != nil {
			return err
		}
		existing, err := repos.Memberships.Get(ctx, orgID, memberID)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("error reading member: %w", err)
		}
		if existing != nil && !existing.Active() {
			existing = nil
		}

		if !actorRole.AtLeast(models.RoleAdmin) || !actorRole.AtLeast(role) ||
			(existing != nil && !actorRole.AtLeast(existing.Role)) {
			denied = true
			return s.appendAudit(ctx, repos, orgID, ac.OwnerID, models.ActionMemberAdd+models.DeniedSuffix, memberID)
		}

		action := models.ActionMemberAdd
		if existing != nil {
			if existing.Role == role {
				result = existing
				return nil
			}
			if existing.Role == models.RoleOwner {
				if err := ensureAnotherOwner(ctx, repos, orgID, memberID); err != nil {
					return err
				}
			}
			action = models.ActionMemberRoleChange
		}

		if err := repos.Memberships.Upsert(ctx, &models.Membership{
			OrgID: orgID, MemberID: memberID, Role: role, CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("error storing member: %w", err)
		}
		if err := s.appendAudit(ctx, repos, orgID, ac.OwnerID, action, memberID); err != nil {
			return err
		}
		result, err = repos.Memberships.Get(ctx, orgID, memberID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if denied {
		s.log.Info(ctx, "member add denied", "org", orgID, "actor", ac.OwnerID, "member", memberID, "role", role)
		return nil, common.ErrorForbidden
	}
	return result, nil
}

// RemoveMember revokes memberID. It reports false when the member was not
// active. The last owner cannot be removed.
func (s *OrgService) RemoveMember(ctx context.Context, ac models.AuthContext, orgID, memberID string) (bool, error) {
	switch {
	case ac.OwnerID == "":
		return false, common.ErrorUnauthorized
	case orgID == "" || memberID == "":
		return false, fmt.Errorf("%w: orgId and memberId are required", common.ErrorBadRequest)
	}
	memberID = canonicalMemberID(memberID)

	var removed, denied bool
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		actorRole, err := activeRole(ctx, repos, orgID, ac.OwnerID)
		if err != nil {
			return err
		}
		existing, err := repos.Memberships.Get(ctx, orgID, memberID)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("error reading member: %w", err)
		}

		if !actorRole.AtLeast(models.RoleAdmin) ||
			(existing != nil && existing.Active() && !actorRole.AtLeast(existing.Role)) {
			denied = true
			return s.appendAudit(ctx, repos, orgID, ac.OwnerID, models.ActionMemberRemove+models.DeniedSuffix, memberID)
		}
		if existing == nil || !existing.Active() {
			return nil
		}
		if existing.Role == models.RoleOwner {
			if err := ensureAnotherOwner(ctx, repos, orgID, memberID); err != nil {
				return err
			}
		}

		removed, err = repos.Memberships.Revoke(ctx, orgID, memberID, s.clock.Now())
		if err != nil {
			return fmt.Errorf("error revoking member: %w", err)
		}
		if !removed {
			return nil
		}
		return s.appendAudit(ctx, repos, orgID, ac.OwnerID, models.ActionMemberRemove, memberID)
	})
	if err != nil {
		return false, err
	}
	if denied {
		s.log.Info(ctx, "member remove denied", "org", orgID, "actor", ac.OwnerID, "member", memberID)
		return false, common.ErrorForbidden
	}
	return removed, nil
}

func (s *OrgService) ListMembers(ctx context.Context, ac models.AuthContext, orgID string) ([]*models.Membership, error) {
	if _, err := s.Authorize(ctx, orgID, ac.OwnerID, models.RoleViewer, models.ActionMembersRead, orgID); err != nil {
		return nil, err
	}
	list, err := s.repomanager.Repos().Memberships.ListActive(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("error listing members: %w", err)
	}
	return list, nil
}

// ListAudit returns a page of entries past the before cursor, newest first.
// limit is clamped to (0, MaxAuditLimit]; zero selects DefaultAuditLimit.
func (s *OrgService) ListAudit(ctx context.Context, ac models.AuthContext, orgID string, before audit.Cursor, limit int) ([]*models.AuditEntry, error) {
	if _, err := s.Authorize(ctx, orgID, ac.OwnerID, models.RoleAdmin, models.ActionAuditRead, orgID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultAuditLimit
	case limit > MaxAuditLimit:
		limit = MaxAuditLimit
	}
	list, err := s.repomanager.Repos().Audit.List(ctx, orgID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("error reading audit log: %w", err)
	}
	return list, nil
}

func (s *OrgService) appendAudit(ctx context.Context, repos repomanager.Repositories, orgID, actorID, action, target string) error {
	err := repos.Audit.Append(ctx, &models.AuditEntry{
		ID:        s.newID(),
		OrgID:     orgID,
		ActorID:   actorID,
		Action:    action,
		TargetID:  target,
		Timestamp: s.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("error appending audit entry: %w", err)
	}
	return nil
}

// activeRole returns "" for actors without an active membership.
func activeRole(ctx context.Context, repos repomanager.Repositories, orgID, memberID string) (models.Role, error) {
	m, err := repos.Memberships.Get(ctx, orgID, memberID)
	if errors.Is(err, common.ErrorNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("error reading membership: %w", err)
	}
	if !m.Active() {
		return "", nil
	}
	return m.Role, nil
}

func ensureAnotherOwner(ctx context.Context, repos repomanager.Repositories, orgID, memberID string) error {
	list, err := repos.Memberships.ListActive(ctx, orgID)
	if err != nil {
		return fmt.Errorf("error listing members: %w", err)
	}
	for _, m := range list {
		if m.Role == models.RoleOwner && m.MemberID != memberID {
			return nil
		}
	}
	return fmt.Errorf("%w: an org needs at least one owner", common.ErrorBadRequest)
}

// canonicalMemberID treats bare ids as authenticated user ids.
func canonicalMemberID(id string) string {
	if strings.HasPrefix(id, common.OwnerPrefixUser) || strings.HasPrefix(id, common.OwnerPrefixAnon) {
		return id
	}
	return common.OwnerPrefixUser + id
}
