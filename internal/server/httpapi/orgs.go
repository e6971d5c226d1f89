package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/server/models"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/audit"
	"github.com/dmitrijs2005/armadillo/internal/server/services"
)

type addMemberRequest struct {
	MemberID string      `json:"memberId"`
	Role     models.Role `json:"role"`
}

func (h *Handler) addMember(c *gin.Context) {
	var req addMemberRequest
	if err := bindJSON(c, &req); err != nil {
		h.writeError(c, err)
		return
	}
	m, err := h.opts.Orgs.AddMember(c.Request.Context(), authContext(c), c.Param("orgId"), req.MemberID, req.Role)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": m})
}

func (h *Handler) removeMember(c *gin.Context) {
	removed, err := h.opts.Orgs.RemoveMember(c.Request.Context(), authContext(c), c.Param("orgId"), c.Param("memberId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *Handler) listMembers(c *gin.Context) {
	list, err := h.opts.Orgs.ListMembers(c.Request.Context(), authContext(c), c.Param("orgId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if list == nil {
		list = []*models.Membership{}
	}
	c.JSON(http.StatusOK, gin.H{"members": list})
}

// listAudit pages with ?before=<cursor> and ?limit=. A cursor is
// "<RFC3339Nano>_<entryId>" or a bare timestamp. nextBefore is the cursor for
// the following page, absent on the last one.
func (h *Handler) listAudit(c *gin.Context) {
	before, err := audit.ParseCursor(c.Query("before"))
	if err != nil {
		h.writeError(c, fmt.Errorf("%w: before must be an audit cursor or RFC 3339 timestamp", common.ErrorBadRequest))
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(c, fmt.Errorf("%w: limit must be a non-negative integer", common.ErrorBadRequest))
			return
		}
		limit = n
	}

	entries, err := h.opts.Orgs.ListAudit(c.Request.Context(), authContext(c), c.Param("orgId"), before, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	page := limit
	switch {
	case page == 0:
		page = services.DefaultAuditLimit
	case page > services.MaxAuditLimit:
		page = services.MaxAuditLimit
	}
	body := gin.H{"entries": entries}
	if n := len(entries); n > 0 && n == page {
		body["nextBefore"] = audit.CursorOf(entries[n-1]).String()
	}
	c.JSON(http.StatusOK, body)
}
