package models

import "time"

// Change event types delivered to vault streams.
const (
	EventSnapshot   = "snapshot"
	EventBlobPut    = "blob.put"
	EventBlobDelete = "blob.delete"
)

// ChangeEvent tells subscribers that a vault changed. It never carries
// ciphertext; clients re-pull.
type ChangeEvent struct {
	Type     string    `json:"type"`
	OwnerID  string    `json:"-"`
	VaultID  string    `json:"vaultId"`
	Revision int64     `json:"revision,omitempty"`
	BlobID   string    `json:"blobId,omitempty"`
	At       time.Time `json:"at"`
}
