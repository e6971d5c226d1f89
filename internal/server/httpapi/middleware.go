package httpapi

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/server/models"
)

const (
	authContextKey = "armadillo.auth"
	authErrorKey   = "armadillo.auth_error"
	requestIDKey   = "armadillo.request_id"
)

func (h *Handler) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(common.RequestIDHeaderName)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(common.RequestIDHeaderName, id)
		c.Next()
	}
}

// observe logs one line per request and records request metrics.
func (h *Handler) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		h.opts.Metrics.ObserveRequest(c.Request.Method, route, status, elapsed)

		owner := ""
		if ac, ok := c.Get(authContextKey); ok {
			owner = ac.(models.AuthContext).OwnerID
		}
		h.log.Info(c.Request.Context(), "request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"latency", elapsed,
			"owner", owner,
			"request_id", c.GetString(requestIDKey))
	}
}

// guard enforces the body ceiling and the rate limit. It resolves identity
// once so the limit is keyed by owner, falling back to the client IP.
func (h *Handler) guard() gin.HandlerFunc {
	return func(c *gin.Context) {
		max := h.opts.MaxRequestBytes
		if max > 0 {
			if c.Request.ContentLength > max {
				h.writeError(c, fmt.Errorf("%w: body exceeds %d bytes", common.ErrorPayloadTooLarge, max))
				return
			}
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}

		key := "ip:" + c.ClientIP()
		ac, err := h.opts.Resolver.Resolve(c.Request)
		if err == nil {
			c.Set(authContextKey, ac)
			key = ac.OwnerID
		} else {
			c.Set(authErrorKey, err)
		}

		d, err := h.opts.Limiter.Allow(c.Request.Context(), key)
		if err != nil {
			// The limiter is defense in depth; an unavailable table admits.
			h.log.Warn(c.Request.Context(), "rate limiter unavailable", "error", err)
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			h.opts.Metrics.RateLimited()
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
			h.writeError(c, common.ErrorTooManyRequests)
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

func (h *Handler) requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(authContextKey); ok {
			c.Next()
			return
		}
		err := common.ErrorUnauthorized
		if v, ok := c.Get(authErrorKey); ok {
			err = v.(error)
		}
		h.writeError(c, err)
	}
}

// vaultRBAC checks org roles on v2 vault routes in enterprise mode. v1 and
// personal mode pass through.
func (h *Handler) vaultRBAC(v2, write bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !v2 || !h.opts.EnterpriseMode {
			c.Next()
			return
		}
		ac := authContext(c)
		role, err := h.opts.Orgs.AuthorizeVault(c.Request.Context(), ac, c.Param("vaultId"), write)
		if err != nil {
			h.writeError(c, err)
			return
		}
		ac.Role = role
		c.Set(authContextKey, ac)
		c.Next()
	}
}

func authContext(c *gin.Context) models.AuthContext {
	v, _ := c.Get(authContextKey)
	ac, _ := v.(models.AuthContext)
	return ac
}
