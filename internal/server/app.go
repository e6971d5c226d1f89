// Package server wires the gateway together: storage, object store, rate
// limiter, services and the HTTP and gRPC servers. It also runs background
// janitors and handles graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/armadillo/internal/common"
	"github.com/dmitrijs2005/armadillo/internal/logging"
	"github.com/dmitrijs2005/armadillo/internal/server/auth"
	"github.com/dmitrijs2005/armadillo/internal/server/config"
	"github.com/dmitrijs2005/armadillo/internal/server/httpapi"
	"github.com/dmitrijs2005/armadillo/internal/server/identity"
	"github.com/dmitrijs2005/armadillo/internal/server/metrics"
	"github.com/dmitrijs2005/armadillo/internal/server/notifier"
	"github.com/dmitrijs2005/armadillo/internal/server/objectstore"
	"github.com/dmitrijs2005/armadillo/internal/server/ratelimit"
	"github.com/dmitrijs2005/armadillo/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/armadillo/internal/server/services"
	"github.com/dmitrijs2005/armadillo/internal/timex"

	gs "github.com/dmitrijs2005/armadillo/internal/server/grpc"
)

const (
	janitorInterval = time.Minute
	shutdownTimeout = 10 * time.Second
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	store     repomanager.RepositoryManager
	redis     *redis.Client
	memLimit  *ratelimit.Memory
	snapshots *services.SnapshotService
	handler   *httpapi.Handler
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Backend: c.LogBackend,
		Level:   c.LogLevel,
		Format:  c.LogFormat,
	}, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	store, err := repomanager.Open(ctx, c.DatabaseDSN, c.DataFile, logger)
	if err != nil {
		return nil, fmt.Errorf("store init error: %w", err)
	}

	app := &App{config: c, logger: logger, store: store}
	if err := app.init(ctx); err != nil {
		_ = app.close()
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	c := app.config
	clock := timex.Real()

	var objects objectstore.Store
	if c.S3Bucket != "" {
		s3, err := objectstore.NewS3Store(ctx, objectstore.S3Options{
			Region:       c.S3Region,
			RootUser:     c.S3RootUser,
			RootPassword: c.S3RootPassword,
			BaseEndpoint: c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
		})
		if err != nil {
			return fmt.Errorf("object store init error: %w", err)
		}
		objects = s3
	}

	var limiter ratelimit.Limiter
	if c.RateLimitRedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: c.RateLimitRedisAddr})
		if err := app.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis init error: %w", err)
		}
		limiter = ratelimit.NewRedis(app.redis, c.RateLimitWindow, c.RateLimitMax, clock)
	} else {
		app.memLimit = ratelimit.NewMemory(c.RateLimitWindow, c.RateLimitMax, clock)
		limiter = app.memLimit
	}

	// Without a configured secret, stream tokens are only valid for the
	// lifetime of this process.
	streamSecret := c.StreamTokenSecret
	if streamSecret == "" {
		s, err := common.MakeRandHexString(32)
		if err != nil {
			return fmt.Errorf("stream secret: %w", err)
		}
		streamSecret = s
	}

	hub := notifier.NewHub(notifier.DefaultBuffer)
	m := metrics.New()

	app.snapshots = services.NewSnapshotService(app.store, hub, m, clock, c.IdempotencyTTL, app.logger)
	app.handler = httpapi.NewHandler(httpapi.Options{
		EnterpriseMode:    c.EnterpriseMode,
		CORSOrigins:       c.CORSOrigins,
		MaxRequestBytes:   c.MaxRequestBytes,
		EntitlementToken:  c.EntitlementToken,
		EntitlementSecret: c.EntitlementSecret,
		Resolver:          identity.NewDefaultResolver([]byte(c.SessionSecret)),
		Limiter:           limiter,
		Snapshots:         app.snapshots,
		Blobs:             services.NewBlobService(app.store, objects, hub, m, clock, app.logger),
		Orgs:              services.NewOrgService(app.store, clock, app.logger),
		Streams:           auth.NewStreamTokens([]byte(streamSecret), c.StreamTokenTTL, clock),
		Hub:               hub,
		Metrics:           m,
		Store:             app.store,
		Clock:             clock,
		Logger:            app.logger,
	})
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:              app.config.EndpointAddrHTTP,
		Handler:           app.handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// In-flight requests drain; event streams never go idle, so end them.
	srv.RegisterOnShutdown(app.handler.CloseStreams)

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			app.logger.Error(sctx, "http shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", srv.Addr, "enterprise", app.config.EnterpriseMode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.store, gs.DefaultProbeInterval)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// runJanitor purges expired idempotency keys and idle rate windows.
func (app *App) runJanitor(ctx context.Context) {
	t := time.NewTicker(janitorInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			app.sweep(ctx)
		}
	}
}

func (app *App) sweep(ctx context.Context) {
	n, err := app.snapshots.PurgeExpiredIdempotency(ctx)
	if err != nil {
		app.logger.Warn(ctx, "idempotency purge failed", "error", err)
	} else if n > 0 {
		app.logger.Debug(ctx, "purged idempotency keys", "count", n)
	}
	if app.memLimit != nil {
		if k := app.memLimit.Sweep(); k > 0 {
			app.logger.Debug(ctx, "swept rate windows", "count", k)
		}
	}
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	if app.config.EndpointAddrGRPC != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startGRPCServer(ctx, cancelFunc)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runJanitor(ctx)
	}()

	wg.Wait()

	app.logger.Info(context.Background(), "App stopped")
	return app.close()
}

func (app *App) close() error {
	var errs []error
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
	}
	if app.store != nil {
		errs = append(errs, app.store.Close())
	}
	return errors.Join(errs...)
}
