// Package filestore keeps every repository table in a single JSON document.
// All writes are serialized by one mutex and committed by rewriting the file
// to a temp name and renaming it over the original, so a crash never leaves a
// partially written document behind.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/dmitrijs2005/armadillo/internal/server/models"
)

const documentVersion = 1

type snapshotKey struct{ owner, vault string }
type blobKey struct{ vault, blob string }
type idempotencyKey struct{ owner, vault, key string }
type membershipKey struct{ org, member string }

type state struct {
	snapshots   map[snapshotKey]models.Snapshot
	blobs       map[blobKey]models.Blob
	idempotency map[idempotencyKey]models.IdempotencyEntry
	memberships map[membershipKey]models.Membership
	audit       []models.AuditEntry
}

func newState() *state {
	return &state{
		snapshots:   make(map[snapshotKey]models.Snapshot),
		blobs:       make(map[blobKey]models.Blob),
		idempotency: make(map[idempotencyKey]models.IdempotencyEntry),
		memberships: make(map[membershipKey]models.Membership),
	}
}

// clone copies the tables. Records are values; byte slices and RevokedAt are
// never mutated in place, so sharing them is safe.
func (st *state) clone() *state {
	next := &state{
		snapshots:   make(map[snapshotKey]models.Snapshot, len(st.snapshots)),
		blobs:       make(map[blobKey]models.Blob, len(st.blobs)),
		idempotency: make(map[idempotencyKey]models.IdempotencyEntry, len(st.idempotency)),
		memberships: make(map[membershipKey]models.Membership, len(st.memberships)),
		audit:       slices.Clip(st.audit),
	}
	for k, v := range st.snapshots {
		next.snapshots[k] = v
	}
	for k, v := range st.blobs {
		next.blobs[k] = v
	}
	for k, v := range st.idempotency {
		next.idempotency[k] = v
	}
	for k, v := range st.memberships {
		next.memberships[k] = v
	}
	return next
}

// document is the on-disk layout.
type document struct {
	Version     int                       `json:"version"`
	Snapshots   []models.Snapshot         `json:"snapshots"`
	Blobs       []models.Blob             `json:"blobs"`
	Idempotency []models.IdempotencyEntry `json:"idempotency"`
	Memberships []models.Membership       `json:"memberships"`
	Audit       []models.AuditEntry       `json:"audit"`
}

func (st *state) document() *document {
	doc := &document{
		Version:     documentVersion,
		Snapshots:   make([]models.Snapshot, 0, len(st.snapshots)),
		Blobs:       make([]models.Blob, 0, len(st.blobs)),
		Idempotency: make([]models.IdempotencyEntry, 0, len(st.idempotency)),
		Memberships: make([]models.Membership, 0, len(st.memberships)),
		Audit:       st.audit,
	}
	for _, v := range st.snapshots {
		doc.Snapshots = append(doc.Snapshots, v)
	}
	for _, v := range st.blobs {
		doc.Blobs = append(doc.Blobs, v)
	}
	for _, v := range st.idempotency {
		doc.Idempotency = append(doc.Idempotency, v)
	}
	for _, v := range st.memberships {
		doc.Memberships = append(doc.Memberships, v)
	}
	// Stable output keeps diffs of the data file readable.
	slices.SortFunc(doc.Snapshots, func(a, b models.Snapshot) int {
		return compareKeys(a.OwnerID, b.OwnerID, a.VaultID, b.VaultID)
	})
	slices.SortFunc(doc.Blobs, func(a, b models.Blob) int {
		return compareKeys(a.VaultID, b.VaultID, a.BlobID, b.BlobID)
	})
	slices.SortFunc(doc.Idempotency, func(a, b models.IdempotencyEntry) int {
		return compareKeys(a.OwnerID+"\x00"+a.VaultID, b.OwnerID+"\x00"+b.VaultID, a.Key, b.Key)
	})
	slices.SortFunc(doc.Memberships, func(a, b models.Membership) int {
		return compareKeys(a.OrgID, b.OrgID, a.MemberID, b.MemberID)
	})
	return doc
}

func (doc *document) state() *state {
	st := newState()
	for _, v := range doc.Snapshots {
		st.snapshots[snapshotKey{v.OwnerID, v.VaultID}] = v
	}
	for _, v := range doc.Blobs {
		st.blobs[blobKey{v.VaultID, v.BlobID}] = v
	}
	for _, v := range doc.Idempotency {
		st.idempotency[idempotencyKey{v.OwnerID, v.VaultID, v.Key}] = v
	}
	for _, v := range doc.Memberships {
		st.memberships[membershipKey{v.OrgID, v.MemberID}] = v
	}
	st.audit = doc.Audit
	return st
}

func compareKeys(a1, b1, a2, b2 string) int {
	if a1 != b1 {
		if a1 < b1 {
			return -1
		}
		return 1
	}
	switch {
	case a2 < b2:
		return -1
	case a2 > b2:
		return 1
	}
	return 0
}

// Store is a flat-file backend for all repositories.
type Store struct {
	mu   sync.Mutex
	path string
	st   *state
}

// Open loads path, or starts empty when it does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path, st: newState()}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode data file: %w", err)
	}
	if doc.Version > documentVersion {
		return nil, fmt.Errorf("data file version %d is newer than supported %d", doc.Version, documentVersion)
	}
	s.st = doc.state()
	return s, nil
}

// Path returns the data file location.
func (s *Store) Path() string {
	return s.path
}

// Repos returns repositories that commit each write on its own.
func (s *Store) Repos() *Tx {
	return &Tx{s: s, auto: true}
}

// Update runs fn against a private copy of the tables. The copy replaces the
// live tables and is written to disk only if fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{s: s, st: s.st.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}
	if err := s.save(tx.st); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

// Ping verifies that the data directory is still writable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.CreateTemp(dir, ".armadillo-ping-*")
	if err != nil {
		return fmt.Errorf("data dir not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// save must be called with mu held.
func (s *Store) save(st *state) error {
	data, err := json.Marshal(st.document())
	if err != nil {
		return fmt.Errorf("encode data file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace data file: %w", err)
	}
	return nil
}

// Tx exposes the repositories over either a transaction copy or, for
// autocommit handles, the live tables.
type Tx struct {
	s     *Store
	st    *state
	auto  bool
	dirty bool
}

func (t *Tx) read(fn func(st *state) error) error {
	if !t.auto {
		return fn(t.st)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return fn(t.s.st)
}

// write applies fn. fn reports whether it changed anything; unchanged
// autocommit writes skip the disk rewrite.
func (t *Tx) write(fn func(st *state) (bool, error)) error {
	if !t.auto {
		changed, err := fn(t.st)
		if changed {
			t.dirty = true
		}
		return err
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	next := t.s.st.clone()
	changed, err := fn(next)
	if err != nil || !changed {
		return err
	}
	if err := t.s.save(next); err != nil {
		return err
	}
	t.s.st = next
	return nil
}
