// Package config handles configuration for the gateway, layering defaults,
// an optional JSON/YAML file, environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds runtime settings for the sync gateway.
//
// Fields:
//   - EndpointAddrHTTP: bind address for the public HTTP API.
//   - EndpointAddrGRPC: bind address for the gRPC health endpoint; empty disables it.
//   - DatabaseDSN: postgres:// or sqlite:/file: DSN. Empty selects the flat-file store.
//   - DataFile: path of the JSON document used by the flat-file store.
//   - EnterpriseMode: enforce org RBAC on v2 routes.
//   - CORSOrigins: allowed browser origins; empty disables CORS headers.
//   - SessionSecret: HMAC secret verifying bearer session tokens (HS256).
//   - StreamTokenSecret / StreamTokenTTL: signing secret and lifetime of SSE stream tokens.
//   - IdempotencyTTL: how long a push idempotency key is remembered.
//   - MaxRequestBytes: request body ceiling.
//   - RateLimitWindow / RateLimitMax: sliding window length and request ceiling per owner.
//   - RateLimitRedisAddr: share the rate table through Redis instead of process memory.
//   - EntitlementToken / EntitlementSecret: pre-signed entitlement handed to clients, and
//     the optional HS256 secret used to verify it.
//   - S3*: object storage for blob ciphertext; an empty bucket keeps ciphertext inline.
//   - LogBackend / LogLevel / LogFormat: logger selection.
type Config struct {
	EndpointAddrHTTP   string
	EndpointAddrGRPC   string
	DatabaseDSN        string
	DataFile           string
	EnterpriseMode     bool
	CORSOrigins        []string
	SessionSecret      string
	StreamTokenSecret  string
	StreamTokenTTL     time.Duration
	IdempotencyTTL     time.Duration
	MaxRequestBytes    int64
	RateLimitWindow    time.Duration
	RateLimitMax       int
	RateLimitRedisAddr string
	EntitlementToken   string
	EntitlementSecret  string
	S3RootUser         string
	S3RootPassword     string
	S3Bucket           string
	S3Region           string
	S3BaseEndpoint     string
	LogBackend         string
	LogLevel           string
	LogFormat          string
}

// LoadDefaults populates Config with development defaults.
// NOTE: the session secret default is insecure and must be overridden in production.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":8787"
	c.EndpointAddrGRPC = ""
	c.DatabaseDSN = ""
	c.DataFile = "data/armadillo.json"
	c.EnterpriseMode = false
	c.CORSOrigins = nil
	c.SessionSecret = "secretKey"
	c.StreamTokenSecret = ""
	c.StreamTokenTTL = 2 * time.Minute
	c.IdempotencyTTL = 24 * time.Hour
	c.MaxRequestBytes = 25 << 20
	c.RateLimitWindow = time.Minute
	c.RateLimitMax = 240
	c.S3Region = "us-east-1"
	c.LogBackend = "slog"
	c.LogLevel = "info"
	c.LogFormat = "json"
}

// Validate reports settings the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.EndpointAddrHTTP == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.DatabaseDSN == "" && c.DataFile == "" {
		errs = append(errs, errors.New("either a database DSN or a data file is required"))
	}
	if c.SessionSecret == "" {
		errs = append(errs, errors.New("session secret is required"))
	}
	if c.StreamTokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("stream token ttl must be positive, got %s", c.StreamTokenTTL))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, fmt.Errorf("idempotency ttl must be positive, got %s", c.IdempotencyTTL))
	}
	if c.MaxRequestBytes <= 0 {
		errs = append(errs, fmt.Errorf("max request bytes must be positive, got %d", c.MaxRequestBytes))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("rate limit window must be positive, got %s", c.RateLimitWindow))
	}
	if c.RateLimitMax <= 0 {
		errs = append(errs, fmt.Errorf("rate limit max must be positive, got %d", c.RateLimitMax))
	}
	return errors.Join(errs...)
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional config file, the environment, and finally command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFile(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
