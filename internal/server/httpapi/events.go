package httpapi

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/server/notifier"
)

type streamTokenRequest struct {
	VaultID string `json:"vaultId"`
}

func (h *Handler) issueStreamToken(v2 bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req streamTokenRequest
		if err := bindJSON(c, &req); err != nil {
			h.writeError(c, err)
			return
		}
		if req.VaultID == "" {
			h.writeError(c, errRequired("vaultId"))
			return
		}

		ac := authContext(c)
		if v2 && h.opts.EnterpriseMode {
			if _, err := h.opts.Orgs.AuthorizeVault(c.Request.Context(), ac, req.VaultID, false); err != nil {
				h.writeError(c, err)
				return
			}
		}

		tok, err := h.opts.Streams.Issue(ac.OwnerID, req.VaultID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, tok)
	}
}

// streamEvents serves the vault change feed as server-sent events: "ready"
// on admission, "change" per event, and "expired" right before the stream
// closes at token expiry.
func (h *Handler) streamEvents(c *gin.Context) {
	vaultID := c.Param("vaultId")
	claims, err := h.opts.Streams.Verify(c.Query(common.StreamTokenQueryParam), vaultID)
	if err != nil {
		h.writeError(c, fmt.Errorf("%w: %w", common.ErrorUnauthorized, err))
		return
	}
	ctx := c.Request.Context()
	expiresAt := claims.ExpiresAt.Time

	sub := h.opts.Hub.Subscribe(notifier.Topic(claims.OwnerID, vaultID))
	defer sub.Close()
	h.opts.Metrics.StreamOpened()
	defer h.opts.Metrics.StreamClosed()

	expired := h.opts.Clock.After(expiresAt.Sub(h.opts.Clock.Now()))
	keepAlive := h.opts.Clock.After(h.opts.KeepAlive)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"vaultId": vaultID, "expiresAt": expiresAt})
	c.Writer.Flush()

	h.log.Debug(ctx, "stream opened", "owner", claims.OwnerID, "vault", vaultID)
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-h.closing:
			c.SSEvent("closing", gin.H{"vaultId": vaultID})
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent("change", ev)
			return true
		case <-expired:
			c.SSEvent("expired", gin.H{"vaultId": vaultID})
			return false
		case <-keepAlive:
			keepAlive = h.opts.Clock.After(h.opts.KeepAlive)
			_, err := io.WriteString(w, ": keepalive\n\n")
			return err == nil
		}
	})
	h.log.Debug(ctx, "stream closed", "owner", claims.OwnerID, "vault", vaultID)
}
