package models

import "time"

// BlobMeta describes an encrypted attachment without its ciphertext.
// SHA256 is asserted by the client and not verified server-side.
type BlobMeta struct {
	VaultID   string    `json:"vault_id"`
	BlobID    string    `json:"blob_id"`
	OwnerID   string    `json:"owner_id"`
	SizeBytes int64     `json:"size_bytes"`
	SHA256    string    `json:"sha256"`
	MimeType  string    `json:"mime_type"`
	FileName  string    `json:"file_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Blob is an attachment keyed by (VaultID, BlobID). When ObjectKey is set the
// ciphertext lives in the object store and Ciphertext is empty at rest.
type Blob struct {
	BlobMeta
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext,omitempty"`
	ObjectKey  string `json:"object_key,omitempty"`
}
