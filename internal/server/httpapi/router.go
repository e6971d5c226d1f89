// Package httpapi is the gateway's HTTP surface: the v1 and v2 JSON routes,
// the change stream, and health and metrics endpoints.
//
// Every API request passes the guard (body ceiling and rate limit), then
// identity resolution, then RBAC where it applies, then the handler.
package httpapi

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/logging"
	"github.com/dmitrijs2005/armadillo/internal/server/auth"
	"github.com/dmitrijs2005/armadillo/internal/server/identity"
	"github.com/dmitrijs2005/armadillo/internal/server/metrics"
	"github.com/dmitrijs2005/armadillo/internal/server/notifier"
	"github.com/dmitrijs2005/armadillo/internal/server/ratelimit"
	"github.com/dmitrijs2005/armadillo/internal/server/services"
	"github.com/dmitrijs2005/armadillo/internal/timex"
)

// DefaultKeepAlive is the interval between SSE comment frames.
const DefaultKeepAlive = 25 * time.Second

// Pinger reports store readiness for /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Handler. Snapshots, Blobs, Orgs, Streams, Hub,
// Resolver and Limiter are required.
type Options struct {
	EnterpriseMode    bool
	CORSOrigins       []string
	MaxRequestBytes   int64
	EntitlementToken  string
	EntitlementSecret string
	KeepAlive         time.Duration

	Resolver  *identity.Resolver
	Limiter   ratelimit.Limiter
	Snapshots *services.SnapshotService
	Blobs     *services.BlobService
	Orgs      *services.OrgService
	Streams   *auth.StreamTokens
	Hub       *notifier.Hub
	Metrics   *metrics.Metrics
	Store     Pinger
	Clock     timex.Clock
	Logger    logging.Logger
}

type Handler struct {
	opts Options
	log  logging.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

func NewHandler(opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = timex.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	return &Handler{opts: opts, log: opts.Logger.With("module", "http"), closing: make(chan struct{})}
}

// CloseStreams ends every open event stream and refuses new ones. Register
// it with http.Server.RegisterOnShutdown; Shutdown does not wait out
// long-lived responses on its own.
func (h *Handler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// Router builds the gin engine.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(h.requestID(), h.observe())
	if c := h.corsConfig(); c != nil {
		r.Use(cors.New(*c))
	}

	r.GET("/healthz", h.healthz)
	r.GET("/readyz", h.readyz)
	r.GET("/metrics", gin.WrapH(h.opts.Metrics.Handler()))

	h.register(r.Group("/v1"), false)
	h.register(r.Group("/v2"), true)
	return r
}

func (h *Handler) register(g *gin.RouterGroup, v2 bool) {
	g.Use(h.guard())

	// The stream authenticates with its token; EventSource cannot send headers.
	g.GET("/vaults/:vaultId/events", h.streamEvents)

	api := g.Group("", h.requireIdentity())
	api.POST("/auth/status", h.authStatus(v2))
	api.GET("/entitlements/me", h.entitlement)

	read := h.vaultRBAC(v2, false)
	write := h.vaultRBAC(v2, true)

	api.POST("/vaults/pull-by-owner", read, h.pullByOwner(v2))
	api.POST("/vaults/list-by-owner", read, h.listByOwner(v2))
	api.POST("/vaults/:vaultId/pull", read, h.pull(v2))
	api.POST("/vaults/:vaultId/push", write, h.push(v2))

	api.GET("/vaults/:vaultId/blobs", read, h.listBlobs)
	api.PUT("/vaults/:vaultId/blobs/:blobId", write, h.putBlob(v2))
	api.GET("/vaults/:vaultId/blobs/:blobId", read, h.getBlob)
	api.DELETE("/vaults/:vaultId/blobs/:blobId", write, h.deleteBlob(v2))

	api.POST("/events/token", h.issueStreamToken(v2))

	if v2 {
		api.GET("/orgs/:orgId/audit", h.listAudit)
		api.GET("/orgs/:orgId/members", h.listMembers)
		api.POST("/orgs/:orgId/members", h.addMember)
		api.DELETE("/orgs/:orgId/members/:memberId", h.removeMember)
	}
}

func (h *Handler) corsConfig() *cors.Config {
	if len(h.opts.CORSOrigins) == 0 {
		return nil
	}
	c := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			"Content-Type",
			common.AuthorizationHeaderName,
			common.OwnerHintHeaderName,
			common.OrgHeaderName,
			common.IdempotencyKeyHeaderName,
			common.RequestIDHeaderName,
		},
		ExposeHeaders: []string{"Retry-After", common.RequestIDHeaderName},
		MaxAge:        12 * time.Hour,
	}
	if slices.Contains(h.opts.CORSOrigins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = h.opts.CORSOrigins
	}
	return &c
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) readyz(c *gin.Context) {
	if h.opts.Store != nil {
		if err := h.opts.Store.Ping(c.Request.Context()); err != nil {
			h.log.Warn(c.Request.Context(), "readiness check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
