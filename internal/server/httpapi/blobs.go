package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/armadillo/internal/server/models"
	"github.com/dmitrijs2005/armadillo/internal/server/services"
)

type blobMetaJSON struct {
	VaultID   string    `json:"vaultId"`
	BlobID    string    `json:"blobId"`
	SizeBytes int64     `json:"sizeBytes"`
	SHA256    string    `json:"sha256"`
	MimeType  string    `json:"mimeType"`
	FileName  string    `json:"fileName"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type blobJSON struct {
	blobMetaJSON
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func toBlobMetaJSON(m *models.BlobMeta) blobMetaJSON {
	return blobMetaJSON{
		VaultID:   m.VaultID,
		BlobID:    m.BlobID,
		SizeBytes: m.SizeBytes,
		SHA256:    m.SHA256,
		MimeType:  m.MimeType,
		FileName:  m.FileName,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

type putBlobRequest struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	SizeBytes  *int64 `json:"sizeBytes"`
	SHA256     string `json:"sha256"`
	MimeType   string `json:"mimeType"`
	FileName   string `json:"fileName"`
}

func (h *Handler) putBlob(v2 bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req putBlobRequest
		if err := bindJSON(c, &req); err != nil {
			h.writeError(c, err)
			return
		}
		size := int64(len(req.Ciphertext))
		if req.SizeBytes != nil {
			size = *req.SizeBytes
		}

		ac := authContext(c)
		ctx := c.Request.Context()
		vaultID := c.Param("vaultId")
		meta, err := h.opts.Blobs.Put(ctx, services.PutBlobInput{
			OwnerID:    ac.OwnerID,
			VaultID:    vaultID,
			BlobID:     c.Param("blobId"),
			Nonce:      req.Nonce,
			Ciphertext: req.Ciphertext,
			SizeBytes:  size,
			SHA256:     req.SHA256,
			MimeType:   req.MimeType,
			FileName:   req.FileName,
		})
		if err != nil {
			h.writeError(c, err)
			return
		}

		body := gin.H{"blob": toBlobMetaJSON(meta)}
		if v2 {
			usage, err := h.opts.Blobs.Usage(ctx, ac.OwnerID, vaultID)
			if err != nil {
				h.writeError(c, err)
				return
			}
			body["usageBytes"] = usage
		}
		c.JSON(http.StatusOK, body)
	}
}

func (h *Handler) getBlob(c *gin.Context) {
	ac := authContext(c)
	b, err := h.opts.Blobs.Get(c.Request.Context(), ac.OwnerID, c.Param("vaultId"), c.Param("blobId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if b == nil {
		c.JSON(http.StatusOK, gin.H{"blob": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blob": blobJSON{
		blobMetaJSON: toBlobMetaJSON(&b.BlobMeta),
		Nonce:        b.Nonce,
		Ciphertext:   b.Ciphertext,
	}})
}

func (h *Handler) deleteBlob(v2 bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ac := authContext(c)
		ctx := c.Request.Context()
		vaultID := c.Param("vaultId")

		deleted, err := h.opts.Blobs.Delete(ctx, ac.OwnerID, vaultID, c.Param("blobId"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		body := gin.H{"deleted": deleted}
		if v2 {
			usage, err := h.opts.Blobs.Usage(ctx, ac.OwnerID, vaultID)
			if err != nil {
				h.writeError(c, err)
				return
			}
			body["usageBytes"] = usage
		}
		c.JSON(http.StatusOK, body)
	}
}

func (h *Handler) listBlobs(c *gin.Context) {
	ac := authContext(c)
	ctx := c.Request.Context()
	vaultID := c.Param("vaultId")

	list, err := h.opts.Blobs.ListMeta(ctx, ac.OwnerID, vaultID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	usage, err := h.opts.Blobs.Usage(ctx, ac.OwnerID, vaultID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]blobMetaJSON, 0, len(list))
	for _, m := range list {
		out = append(out, toBlobMetaJSON(m))
	}
	c.JSON(http.StatusOK, gin.H{"blobs": out, "usageBytes": usage})
}
