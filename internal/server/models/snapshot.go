package models

import "time"

// Snapshot is the latest encrypted vault document for one (owner, vault).
// Revision only ever grows; a push either replaces the whole row or is rejected.
type Snapshot struct {
	OwnerID       string    `json:"owner_id"`
	VaultID       string    `json:"vault_id"`
	Revision      int64     `json:"revision"`
	EncryptedFile []byte    `json:"encrypted_file"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IdempotencyEntry remembers the outcome of a push made with a client key.
type IdempotencyEntry struct {
	Key       string    `json:"key"`
	OwnerID   string    `json:"owner_id"`
	VaultID   string    `json:"vault_id"`
	Accepted  bool      `json:"accepted"`
	Revision  int64     `json:"revision"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Live reports whether the entry still deduplicates retries at now.
func (e *IdempotencyEntry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}
