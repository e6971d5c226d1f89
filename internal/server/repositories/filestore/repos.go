package filestore

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/server/models"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/audit"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/blobs"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/idempotency"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/memberships"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/snapshots"
)

func (t *Tx) Snapshots() snapshots.Repository     { return snapshotRepo{t} }
func (t *Tx) Blobs() blobs.Repository             { return blobRepo{t} }
func (t *Tx) Idempotency() idempotency.Repository { return idempotencyRepo{t} }
func (t *Tx) Memberships() memberships.Repository { return membershipRepo{t} }
func (t *Tx) Audit() audit.Repository             { return auditRepo{t} }

type snapshotRepo struct{ tx *Tx }

func (r snapshotRepo) Get(_ context.Context, ownerID, vaultID string) (*models.Snapshot, error) {
	var out *models.Snapshot
	err := r.tx.read(func(st *state) error {
		s, ok := st.snapshots[snapshotKey{ownerID, vaultID}]
		if !ok {
			return common.ErrorNotFound
		}
		out = copySnapshot(s)
		return nil
	})
	return out, err
}

func (r snapshotRepo) CompareAndSwap(_ context.Context, snap *models.Snapshot) (bool, error) {
	accepted := false
	err := r.tx.write(func(st *state) (bool, error) {
		key := snapshotKey{snap.OwnerID, snap.VaultID}
		if cur, ok := st.snapshots[key]; ok && cur.Revision >= snap.Revision {
			return false, nil
		}
		s := *copySnapshot(*snap)
		s.UpdatedAt = s.UpdatedAt.UTC()
		st.snapshots[key] = s
		accepted = true
		return true, nil
	})
	return accepted, err
}

func (r snapshotRepo) ListByOwner(_ context.Context, ownerID string) ([]*models.Snapshot, error) {
	return r.list(func(s models.Snapshot) bool { return s.OwnerID == ownerID })
}

func (r snapshotRepo) ListByOwnerPrefix(_ context.Context, prefix string) ([]*models.Snapshot, error) {
	return r.list(func(s models.Snapshot) bool { return strings.HasPrefix(s.OwnerID, prefix) })
}

func (r snapshotRepo) list(match func(models.Snapshot) bool) ([]*models.Snapshot, error) {
	var out []*models.Snapshot
	err := r.tx.read(func(st *state) error {
		for _, s := range st.snapshots {
			if match(s) {
				out = append(out, copySnapshot(s))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Snapshot) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.VaultID, b.VaultID)
	})
	return out, err
}

func copySnapshot(s models.Snapshot) *models.Snapshot {
	s.EncryptedFile = slices.Clone(s.EncryptedFile)
	return &s
}

type blobRepo struct{ tx *Tx }

func (r blobRepo) Upsert(_ context.Context, b *models.Blob) error {
	return r.tx.write(func(st *state) (bool, error) {
		key := blobKey{b.VaultID, b.BlobID}
		next := *b
		next.Nonce = slices.Clone(b.Nonce)
		next.Ciphertext = slices.Clone(b.Ciphertext)
		next.CreatedAt = next.CreatedAt.UTC()
		next.UpdatedAt = next.UpdatedAt.UTC()
		if cur, ok := st.blobs[key]; ok {
			if cur.OwnerID != b.OwnerID {
				return false, common.ErrorForbidden
			}
			next.CreatedAt = cur.CreatedAt
		}
		st.blobs[key] = next
		return true, nil
	})
}

func (r blobRepo) Get(_ context.Context, ownerID, vaultID, blobID string) (*models.Blob, error) {
	var out *models.Blob
	err := r.tx.read(func(st *state) error {
		b, ok := st.blobs[blobKey{vaultID, blobID}]
		if !ok || b.OwnerID != ownerID {
			return common.ErrorNotFound
		}
		b.Nonce = slices.Clone(b.Nonce)
		b.Ciphertext = slices.Clone(b.Ciphertext)
		out = &b
		return nil
	})
	return out, err
}

func (r blobRepo) Delete(_ context.Context, ownerID, vaultID, blobID string) (bool, error) {
	deleted := false
	err := r.tx.write(func(st *state) (bool, error) {
		key := blobKey{vaultID, blobID}
		b, ok := st.blobs[key]
		if !ok || b.OwnerID != ownerID {
			return false, nil
		}
		delete(st.blobs, key)
		deleted = true
		return true, nil
	})
	return deleted, err
}

func (r blobRepo) ListMeta(_ context.Context, ownerID, vaultID string) ([]*models.BlobMeta, error) {
	var out []*models.BlobMeta
	err := r.tx.read(func(st *state) error {
		for _, b := range st.blobs {
			if b.OwnerID == ownerID && b.VaultID == vaultID {
				meta := b.BlobMeta
				out = append(out, &meta)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.BlobMeta) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.BlobID, b.BlobID)
	})
	return out, err
}

func (r blobRepo) Usage(_ context.Context, ownerID, vaultID string) (int64, error) {
	var total int64
	err := r.tx.read(func(st *state) error {
		for _, b := range st.blobs {
			if b.OwnerID == ownerID && b.VaultID == vaultID {
				total += b.SizeBytes
			}
		}
		return nil
	})
	return total, err
}

type idempotencyRepo struct{ tx *Tx }

func (r idempotencyRepo) Get(_ context.Context, ownerID, vaultID, key string) (*models.IdempotencyEntry, error) {
	var out *models.IdempotencyEntry
	err := r.tx.read(func(st *state) error {
		e, ok := st.idempotency[idempotencyKey{ownerID, vaultID, key}]
		if !ok {
			return common.ErrorNotFound
		}
		out = &e
		return nil
	})
	return out, err
}

func (r idempotencyRepo) Put(_ context.Context, e *models.IdempotencyEntry, now time.Time) error {
	return r.tx.write(func(st *state) (bool, error) {
		key := idempotencyKey{e.OwnerID, e.VaultID, e.Key}
		if cur, ok := st.idempotency[key]; ok && cur.Live(now) {
			return false, nil
		}
		next := *e
		next.ExpiresAt = next.ExpiresAt.UTC()
		st.idempotency[key] = next
		return true, nil
	})
}

func (r idempotencyRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.tx.write(func(st *state) (bool, error) {
		for k, e := range st.idempotency {
			if !e.Live(now) {
				delete(st.idempotency, k)
				n++
			}
		}
		return n > 0, nil
	})
	return n, err
}

type membershipRepo struct{ tx *Tx }

func (r membershipRepo) Get(_ context.Context, orgID, memberID string) (*models.Membership, error) {
	var out *models.Membership
	err := r.tx.read(func(st *state) error {
		m, ok := st.memberships[membershipKey{orgID, memberID}]
		if !ok {
			return common.ErrorNotFound
		}
		out = &m
		return nil
	})
	return out, err
}

func (r membershipRepo) Upsert(_ context.Context, m *models.Membership) error {
	return r.tx.write(func(st *state) (bool, error) {
		key := membershipKey{m.OrgID, m.MemberID}
		next := models.Membership{
			OrgID:     m.OrgID,
			MemberID:  m.MemberID,
			Role:      m.Role,
			CreatedAt: m.CreatedAt.UTC(),
		}
		if cur, ok := st.memberships[key]; ok {
			next.CreatedAt = cur.CreatedAt
		}
		st.memberships[key] = next
		return true, nil
	})
}

func (r membershipRepo) Revoke(_ context.Context, orgID, memberID string, at time.Time) (bool, error) {
	revoked := false
	err := r.tx.write(func(st *state) (bool, error) {
		key := membershipKey{orgID, memberID}
		m, ok := st.memberships[key]
		if !ok || !m.Active() {
			return false, nil
		}
		at := at.UTC()
		m.RevokedAt = &at
		st.memberships[key] = m
		revoked = true
		return true, nil
	})
	return revoked, err
}

func (r membershipRepo) ListActive(_ context.Context, orgID string) ([]*models.Membership, error) {
	var out []*models.Membership
	err := r.tx.read(func(st *state) error {
		for _, m := range st.memberships {
			if m.OrgID == orgID && m.Active() {
				out = append(out, &m)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Membership) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.MemberID, b.MemberID)
	})
	return out, err
}

func (r membershipRepo) CountActive(ctx context.Context, orgID string) (int, error) {
	ms, err := r.ListActive(ctx, orgID)
	return len(ms), err
}

type auditRepo struct{ tx *Tx }

func (r auditRepo) Append(_ context.Context, e *models.AuditEntry) error {
	return r.tx.write(func(st *state) (bool, error) {
		next := *e
		next.Timestamp = next.Timestamp.UTC()
		st.audit = append(st.audit, next)
		return true, nil
	})
}

func (r auditRepo) List(_ context.Context, orgID string, before audit.Cursor, limit int) ([]*models.AuditEntry, error) {
	var out []*models.AuditEntry
	err := r.tx.read(func(st *state) error {
		for _, e := range st.audit {
			if e.OrgID != orgID {
				continue
			}
			if !before.Admits(e.Timestamp, e.ID) {
				continue
			}
			out = append(out, &e)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.AuditEntry) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}
