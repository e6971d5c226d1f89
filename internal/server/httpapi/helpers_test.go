package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/server/auth"
	"github.com/dmitrijs2005/armadillo/internal/server/identity"
	"github.com/dmitrijs2005/armadillo/internal/server/metrics"
	"github.com/dmitrijs2005/armadillo/internal/server/notifier"
	"github.com/dmitrijs2005/armadillo/internal/server/ratelimit"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/armadillo/internal/server/services"
	"github.com/dmitrijs2005/armadillo/internal/timex"
)

var sessionSecret = []byte("test-session-secret")

type testEnv struct {
	router  *gin.Engine
	handler *Handler
	clock   *timex.Fake
	hub     *notifier.Hub
	metrics *metrics.Metrics
	store   repomanager.RepositoryManager
}

type envOption func(*Options)

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := repomanager.Open(context.Background(), "", filepath.Join(t.TempDir(), "armadillo.json"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := timex.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	hub := notifier.NewHub(notifier.DefaultBuffer)
	m := metrics.New()

	o := Options{
		MaxRequestBytes: 1 << 20,
		KeepAlive:       time.Hour,
		Resolver:        identity.NewDefaultResolver(sessionSecret),
		Limiter:         ratelimit.NewMemory(time.Minute, 1000, clock),
		Snapshots:       services.NewSnapshotService(store, hub, m, clock, time.Hour, nil),
		Blobs:           services.NewBlobService(store, nil, hub, m, clock, nil),
		Orgs:            services.NewOrgService(store, clock, nil),
		Streams:         auth.NewStreamTokens([]byte("stream-secret"), 2*time.Minute, clock),
		Hub:             hub,
		Metrics:         m,
		Store:           store,
		Clock:           clock,
	}
	for _, fn := range opts {
		fn(&o)
	}
	h := NewHandler(o)
	return &testEnv{router: h.Router(), handler: h, clock: clock, hub: hub, metrics: m, store: store}
}

type hdr map[string]string

func anonHeaders(hint string) hdr {
	return hdr{common.OwnerHintHeaderName: hint}
}

func sessionHeaders(t *testing.T, subject, org string) hdr {
	t.Helper()
	tok, err := auth.GenerateToken(subject, org, sessionSecret, time.Hour)
	require.NoError(t, err)
	return hdr{common.AuthorizationHeaderName: "Bearer " + tok}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, h hdr) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range h {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func pushBody(rev int64, file string) map[string]any {
	return map[string]any{
		"revision":      rev,
		"encryptedFile": []byte(file),
		"updatedAt":     "2025-03-01T12:00:00Z",
	}
}

func with(key, value string, h hdr) hdr {
	out := hdr{key: value}
	for k, v := range h {
		out[k] = v
	}
	return out
}
