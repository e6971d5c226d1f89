package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/armadillo/internal/server/auth"
)

func (h *Handler) authStatus(v2 bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ac := authContext(c)
		if v2 && ac.OrgID != "" {
			role, err := h.opts.Orgs.Role(c.Request.Context(), ac.OrgID, ac.OwnerID)
			if err != nil {
				h.writeError(c, err)
				return
			}
			ac.Role = role
		}
		body := gin.H{
			"authenticated": ac.Authenticated(),
			"ownerId":       ac.OwnerID,
			"source":        ac.Source,
		}
		if v2 {
			body["subject"] = ac.Subject
			body["orgId"] = ac.OrgID
			body["role"] = ac.Role
			body["enterprise"] = h.opts.EnterpriseMode
		}
		c.JSON(http.StatusOK, body)
	}
}

// entitlement hands out the configured pre-signed token. With a secret set
// the token is verified first and its claims are returned alongside.
func (h *Handler) entitlement(c *gin.Context) {
	token := h.opts.EntitlementToken
	if token == "" {
		c.JSON(http.StatusOK, gin.H{"token": nil, "verified": false})
		return
	}
	if h.opts.EntitlementSecret == "" {
		c.JSON(http.StatusOK, gin.H{"token": token, "verified": false})
		return
	}
	claims, err := auth.VerifyEntitlement(token, []byte(h.opts.EntitlementSecret))
	if err != nil {
		h.log.Error(c.Request.Context(), "configured entitlement token failed verification", "error", err)
		c.JSON(http.StatusOK, gin.H{"token": nil, "verified": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "verified": true, "claims": claims})
}
