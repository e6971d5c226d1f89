package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/server/models"
	"github.com/dmitrijs2005/armadillo/internal/server/services"
)

type snapshotJSON struct {
	OwnerID       string    `json:"ownerId,omitempty"`
	VaultID       string    `json:"vaultId"`
	Revision      int64     `json:"revision"`
	EncryptedFile []byte    `json:"encryptedFile"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toSnapshotJSON(s *models.Snapshot, v2 bool) *snapshotJSON {
	if s == nil {
		return nil
	}
	out := &snapshotJSON{
		VaultID:       s.VaultID,
		Revision:      s.Revision,
		EncryptedFile: s.EncryptedFile,
		UpdatedAt:     s.UpdatedAt,
	}
	if v2 {
		out.OwnerID = s.OwnerID
	}
	return out
}

type pushRequest struct {
	Revision      *int64     `json:"revision"`
	EncryptedFile []byte     `json:"encryptedFile"`
	UpdatedAt     *time.Time `json:"updatedAt"`
}

func (h *Handler) pull(v2 bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ac := authContext(c)
		snap, err := h.opts.Snapshots.Pull(c.Request.Context(), ac, c.Param("vaultId"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		body := gin.H{"snapshot": toSnapshotJSON(snap, v2)}
		if v2 {
			body["ownerId"] = ac.OwnerID
			body["source"] = ac.Source
		}
		c.JSON(http.StatusOK, body)
	}
}

func (h *Handler) pullByOwner(v2 bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ac := authContext(c)
		snap, err := h.opts.Snapshots.PullByOwner(c.Request.Context(), ac)
		if err != nil {
			h.writeError(c, err)
			return
		}
		body := gin.H{"snapshot": toSnapshotJSON(snap, v2)}
		if v2 {
			body["ownerId"] = ac.OwnerID
			body["source"] = ac.Source
		}
		c.JSON(http.StatusOK, body)
	}
}

func (h *Handler) listByOwner(v2 bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ac := authContext(c)
		list, err := h.opts.Snapshots.ListByOwner(c.Request.Context(), ac)
		if err != nil {
			h.writeError(c, err)
			return
		}
		out := make([]*snapshotJSON, 0, len(list))
		for _, s := range list {
			out = append(out, toSnapshotJSON(s, v2))
		}
		body := gin.H{"snapshots": out}
		if v2 {
			body["ownerId"] = ac.OwnerID
			body["source"] = ac.Source
		}
		c.JSON(http.StatusOK, body)
	}
}

func (h *Handler) push(v2 bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pushRequest
		if err := bindJSON(c, &req); err != nil {
			h.writeError(c, err)
			return
		}
		if req.Revision == nil {
			h.writeError(c, errRequired("revision"))
			return
		}

		ac := authContext(c)
		in := services.PushInput{
			OwnerID:        ac.OwnerID,
			VaultID:        c.Param("vaultId"),
			Revision:       *req.Revision,
			EncryptedFile:  req.EncryptedFile,
			IdempotencyKey: c.GetHeader(common.IdempotencyKeyHeaderName),
		}
		if req.UpdatedAt != nil {
			in.UpdatedAt = *req.UpdatedAt
		}

		res, err := h.opts.Snapshots.Push(c.Request.Context(), in)
		if err != nil {
			h.writeError(c, err)
			return
		}
		if !v2 {
			c.JSON(http.StatusOK, gin.H{"accepted": res.Accepted})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"accepted":        res.Accepted,
			"replayed":        res.Replayed,
			"revision":        in.Revision,
			"currentRevision": res.CurrentRevision,
		})
	}
}
